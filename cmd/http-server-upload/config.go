// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	upload "blitznote.com/src/http-server-upload"
)

const usageText = `A simple zero-configuration command-line http server for uploading files.

Configuration is done by arguments, environment variables, or a YAML file.
Arguments take precedence over environment variables, which take precedence over the file.

Usage:
  http-server-upload [arguments] [uploadRootPath]

Argument | Environment variable
  Description [Default value]

`

// options is what can be configured from outside.
type options struct {
	Port            int    `yaml:"port"`
	DisableAutoPort bool   `yaml:"disable_auto_port"`
	MaxPortRetries  int    `yaml:"max_port_retries"`
	UploadDir       string `yaml:"upload_dir"`
	TempDir         string `yaml:"upload_tmp_dir"`
	Token           string `yaml:"token"`
	PathRegexp      string `yaml:"path_regexp"`

	// In MiB. 0 disables the limit.
	MaxFileSize int64 `yaml:"max_file_size"`

	EnableFolderCreation bool   `yaml:"enable_folder_creation"`
	FilenamesForm        string `yaml:"filenames_form"`
	FilenamesIn          string `yaml:"filenames_in"`
	FilenamesShareSafe   bool   `yaml:"filenames_share_safe"`
	LogFormat            string `yaml:"log_format"`
	LogLevel             string `yaml:"log_level"`

	configFile string
}

func defaultOptions() options {
	return options{
		Port:        upload.DefaultPort,
		UploadDir:   ".",
		PathRegexp:  upload.DefaultPathPattern,
		MaxFileSize: upload.DefaultMaxFilesize >> 20,
		LogFormat:   "text",
		LogLevel:    "info",
	}
}

// newFlagSet binds every argument to 'o', with its current values as defaults.
func newFlagSet(o *options, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("http-server-upload", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.IntVar(&o.Port, "port", o.Port, "`PORT`\n  The port to use.")
	fs.BoolVar(&o.DisableAutoPort, "disable-auto-port", o.DisableAutoPort,
		"DISABLE_AUTO_PORT\n  Disable the automatic port increase if the port is not available.")
	fs.IntVar(&o.MaxPortRetries, "max-port-retries", o.MaxPortRetries,
		"`MAX_PORT_RETRIES`\n  How many ports after --port to try at most, 0 for no limit.")
	for _, name := range []string{"upload-dir", "dir"} {
		fs.StringVar(&o.UploadDir, name, o.UploadDir,
			"`UPLOAD_DIR`\n  The directory where the files should be uploaded to.\n  This overrides the uploadRootPath argument.")
	}
	for _, name := range []string{"upload-tmp-dir", "tmp-dir"} {
		fs.StringVar(&o.TempDir, name, o.TempDir,
			"`UPLOAD_TMP_DIR`\n  Temp directory for the file upload. [The upload directory]")
	}
	for _, name := range []string{"max-file-size", "max-size"} {
		fs.Int64Var(&o.MaxFileSize, name, o.MaxFileSize,
			"`MAX_FILE_SIZE`\n  The maximum allowed file size for uploads in MiB, 0 for no limit.")
	}
	fs.StringVar(&o.Token, "token", o.Token, "`TOKEN`\n  An optional token which must be provided on upload.")
	fs.StringVar(&o.PathRegexp, "path-regexp", o.PathRegexp,
		"`PATH_REGEXP`\n  A regular expression to verify a given upload path.\n"+
			"  This should be set with care, as it may allow write access to anywhere below the upload directory.")
	fs.BoolVar(&o.EnableFolderCreation, "enable-folder-creation", o.EnableFolderCreation,
		"ENABLE_FOLDER_CREATION\n  Enable automatic folder creation when uploading to a non-existent folder.")
	fs.StringVar(&o.FilenamesForm, "filenames-form", o.FilenamesForm,
		"`FILENAMES_FORM`\n  Accept only filenames in this Unicode normal form: NFC, NFD, or none.")
	fs.StringVar(&o.FilenamesIn, "filenames-in", o.FilenamesIn,
		"`FILENAMES_IN`\n  Accept only filenames with runes in these ranges, like: u0000-u007F u0100-u017F")
	fs.BoolVar(&o.FilenamesShareSafe, "filenames-share-safe", o.FilenamesShareSafe,
		"FILENAMES_SHARE_SAFE\n  Reject filenames with any of "+upload.AlwaysRejectRunes+" which network shares cannot store.")
	fs.StringVar(&o.LogFormat, "log-format", o.LogFormat, "`LOG_FORMAT`\n  text or json")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "`LOG_LEVEL`\n  debug, info, warn, or error")
	fs.StringVar(&o.configFile, "config", o.configFile, "`CONFIG_FILE`\n  A YAML file with any of the above, in snake_case.")

	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageText)
		fs.PrintDefaults()
	}
	return fs
}

// loadOptions merges, in order of increasing precedence:
// defaults, the YAML file, the environment, and the arguments.
//
// Returns flag.ErrHelp if usage has been requested.
func loadOptions(args []string, lookupEnv func(string) (string, bool), output io.Writer) (*options, error) {
	// Only to find the file, and whether help is wanted.
	probe := defaultOptions()
	fs := newFlagSet(&probe, output)
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(positional) > 1 {
		return nil, errors.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	o := defaultOptions()
	configFile := probe.configFile
	if configFile == "" {
		configFile, _ = lookupEnv("CONFIG_FILE")
	}
	if configFile != "" {
		if err := o.readFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := o.readEnv(lookupEnv); err != nil {
		return nil, err
	}

	fs = newFlagSet(&o, io.Discard)
	_, _ = parseInterspersed(fs, args) // has succeeded before
	uploadDirSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "upload-dir" || f.Name == "dir" {
			uploadDirSet = true
		}
	})
	if len(positional) == 1 && !uploadDirSet {
		o.UploadDir = positional[0]
	}
	o.configFile = configFile

	return &o, nil
}

// parseInterspersed allows arguments after uploadRootPath, which package flag would leave unparsed.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func (o *options) readFile(name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return errors.Wrap(err, "config file")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err = dec.Decode(o); err != nil && err != io.EOF {
		return errors.Wrapf(err, "config file %s", name)
	}
	return nil
}

func (o *options) readEnv(lookupEnv func(string) (string, bool)) error {
	strs := map[string]*string{
		"UPLOAD_DIR":     &o.UploadDir,
		"UPLOAD_TMP_DIR": &o.TempDir,
		"TOKEN":          &o.Token,
		"PATH_REGEXP":    &o.PathRegexp,
		"FILENAMES_FORM": &o.FilenamesForm,
		"FILENAMES_IN":   &o.FilenamesIn,
		"LOG_FORMAT":     &o.LogFormat,
		"LOG_LEVEL":      &o.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PORT":             &o.Port,
		"MAX_PORT_RETRIES": &o.MaxPortRetries,
	}
	for key, dst := range ints {
		v, ok := lookupEnv(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, key)
		}
		*dst = n
	}
	if v, ok := lookupEnv("MAX_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "MAX_FILE_SIZE")
		}
		o.MaxFileSize = n
	}

	bools := map[string]*bool{
		"DISABLE_AUTO_PORT":      &o.DisableAutoPort,
		"ENABLE_FOLDER_CREATION": &o.EnableFolderCreation,
		"FILENAMES_SHARE_SAFE":   &o.FilenamesShareSafe,
	}
	for key, dst := range bools {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = envBool(v)
		}
	}
	return nil
}

// envBool is true for anything set, unless it reads as a boolean false.
func envBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// configuration translates the options for the upload handler.
func (o *options) configuration() (*upload.Configuration, error) {
	uploadDir, err := filepath.Abs(o.UploadDir)
	if err != nil {
		return nil, errors.Wrap(err, "upload directory")
	}
	cfg := upload.NewDefaultConfiguration(uploadDir)
	if o.TempDir != "" {
		if cfg.TempDir, err = filepath.Abs(o.TempDir); err != nil {
			return nil, errors.Wrap(err, "temp directory")
		}
	}

	cfg.Port = o.Port
	cfg.AutoPortRetry = !o.DisableAutoPort
	cfg.MaxPortRetries = o.MaxPortRetries
	cfg.Token = o.Token
	cfg.AutoCreateFolders = o.EnableFolderCreation
	cfg.Filenames.ShareSafe = o.FilenamesShareSafe

	if cfg.PathPattern, err = regexp.Compile(o.PathRegexp); err != nil {
		return nil, errors.Wrap(err, "path regexp")
	}
	if o.MaxFileSize < 0 || o.MaxFileSize > (1<<63-1)>>20 {
		return nil, errors.Errorf("max file size %d MiB is out of range", o.MaxFileSize)
	}
	cfg.MaxFilesize = o.MaxFileSize << 20

	switch strings.ToUpper(o.FilenamesForm) {
	case "", "NONE":
	case "NFC":
		form := norm.NFC
		cfg.Filenames.Form = &form
	case "NFD":
		form := norm.NFD
		cfg.Filenames.Form = &form
	default:
		return nil, errors.Errorf("unknown Unicode normal form %q", o.FilenamesForm)
	}
	if o.FilenamesIn != "" {
		table, err := upload.ParseUnicodeBlockList(o.FilenamesIn)
		if err != nil {
			return nil, errors.Wrap(err, "filenames-in")
		}
		cfg.Filenames.RestrictTo = []*unicode.RangeTable{table}
	}

	return cfg, cfg.Validate()
}

// logger writes to 'w' in the configured format, with the configured minimum level.
func (o *options) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.LogLevel)); err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(o.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOptions)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOptions)), nil
	}
	return nil, errors.Errorf("unknown log format %q", o.LogFormat)
}
