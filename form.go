// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
)

var formTemplate = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>http-server-upload</title>
</head>
<body>
<form id="uploadform" action="upload" method="post" enctype="multipart/form-data">
  Files: <input id="fileinput" type="file" name="uploads" multiple="multiple"><br />
  Upload path: <input type="text" name="path" value=""><br />
{{- if .TokenRequired}}
  Token: <input type="text" name="token" value=""><br />
{{- end}}
  <input type="submit" value="Upload!">
</form>
{{- if gt .MaxFilesize 0}}
<p>Files must not be larger than {{.MaxFilesizeHuman}} each.</p>
{{- end}}
<script>
document.getElementById('uploadform').addEventListener('submit', function (ev) {
  var maxFileSize = {{.MaxFilesize}};
  var files = document.getElementById('fileinput').files;
  if (!files.length) {
    alert('No file selected.');
    ev.preventDefault();
    return;
  }
  for (var i = 0; i < files.length; i++) {
    if (maxFileSize > 0 && files[i].size > maxFileSize) {
      alert('Cannot upload. ' + files[i].name + ' exceeds the limit of ' + {{.MaxFilesizeHuman}} + '.');
      ev.preventDefault();
      return;
    }
  }
});
</script>
</body>
</html>
`))

// FormPage renders the static upload form for any request it gets.
type FormPage struct {
	TokenRequired bool
	MaxFilesize   int64

	rendered []byte
}

// NewFormPage renders the form once, as it does not change.
func NewFormPage(config *Configuration) *FormPage {
	p := &FormPage{
		TokenRequired: config.Token != "",
		MaxFilesize:   config.MaxFilesize,
	}
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, p); err != nil {
		panic(err) // the template is static
	}
	p.rendered = buf.Bytes()
	return p
}

// MaxFilesizeHuman is MaxFilesize for humans.
func (p *FormPage) MaxFilesizeHuman() string {
	if p.MaxFilesize <= 0 {
		return ""
	}
	return humanize.IBytes(uint64(p.MaxFilesize))
}

// ServeHTTP implements the http.Handler interface.
func (p *FormPage) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(p.rendered)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.rendered)
}
