package upload

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfiguration_Validate(t *testing.T) {
	Convey("The default configuration", t, func() {
		dir := t.TempDir()
		cfg := NewDefaultConfiguration(dir)

		Convey("stages files in the upload directory", func() {
			So(cfg.TempDir, ShouldEqual, dir)
			So(cfg.Port, ShouldEqual, DefaultPort)
			So(cfg.AutoPortRetry, ShouldBeTrue)
			So(cfg.AutoCreateFolders, ShouldBeFalse)
			So(cfg.Token, ShouldBeEmpty)
		})

		Convey("is valid", func() {
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("is invalid with ports out of range", func() {
			cfg.Port = 65536
			So(cfg.Validate(), ShouldNotBeNil)
			cfg.Port = -1
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("is invalid with negative retries", func() {
			cfg.MaxPortRetries = -1
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("is invalid without a path pattern", func() {
			cfg.PathPattern = nil
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("is invalid if the upload directory is missing", func() {
			cfg.UploadDir = filepath.Join(dir, "missing")
			So(cfg.Validate(), ShouldNotBeNil)
			cfg.UploadDir = ""
			So(cfg.Validate(), ShouldNotBeNil)
		})

		Convey("is invalid if the temp directory is a file", func() {
			cfg.TempDir = filepath.Join(dir, "file")
			So(os.WriteFile(cfg.TempDir, nil, 0640), ShouldBeNil)
			So(cfg.Validate(), ShouldNotBeNil)
		})
	})

	Convey("The default path pattern", t, func() {
		cfg := NewDefaultConfiguration("")

		Convey("admits plain relative paths", func() {
			for _, p := range []string{"", "a", "sub/dir", "with-dash_and_underscore/0123"} {
				So(cfg.PathPattern.MatchString(p), ShouldBeTrue)
			}
		})

		Convey("rejects dots and anything unusual", func() {
			for _, p := range []string{"..", "../x", "a.b", "sub dir", "ä", `a\b`} {
				So(cfg.PathPattern.MatchString(p), ShouldBeFalse)
			}
		})
	})
}
