package core

import (
	"bytes"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	texttmpl "text/template"

	"github.com/pkg/errors"
)

type (
	// EmailTemplates holds parsed `<name>.txt` & `<name>.gohtml` templates, each one layered on
	// `_base.txt` or `_base.gohtml`.
	EmailTemplates struct {
		text            map[string]*texttmpl.Template
		html            map[string]*htmltmpl.Template
		frontendBaseURL string
	}

	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// ParseEmailTemplates parses every template found in `dir` of `fsys`.
// In strict mode, templates fail on missing keys.
func ParseEmailTemplates(fsys fs.FS, dir, frontendBaseURL string, strict bool) (*EmailTemplates, error) {
	tmpls := &EmailTemplates{
		text:            make(map[string]*texttmpl.Template),
		html:            make(map[string]*htmltmpl.Template),
		frontendBaseURL: frontendBaseURL,
	}

	fps, err := fs.Glob(fsys, path.Join(dir, "*"))
	if err != nil {
		return nil, errors.Wrap(err, "listing email templates")
	}
	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)

		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(fsys, path.Join(dir, "_base.txt"), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			tmpls.text[name] = tmpl
		} else {
			tmpl, err := htmltmpl.ParseFS(fsys, path.Join(dir, "_base.gohtml"), fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			if strict {
				tmpl = tmpl.Option("missingkey=error")
			}
			tmpls.html[name] = tmpl
		}
	}
	return tmpls, nil
}

func (m *EmailMessage) contextData(tmpls *EmailTemplates) ContextData {
	return ContextData{
		FrontendBaseURL: tmpls.frontendBaseURL,
		Data:            m.TemplateData,
	}
}

func (m *EmailMessage) renderText(tmpls *EmailTemplates) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	} else if m.TemplateName == "" || tmpls == nil {
		return nil
	}

	tmpl, ok := tmpls.text[m.TemplateName]
	if !ok {
		return nil
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.contextData(tmpls)); err != nil {
		return err
	}
	m.TextContent = buff.String()
	return nil
}

func (m *EmailMessage) renderHTML(tmpls *EmailTemplates) error {
	if m.TemplateName == "" || tmpls == nil {
		return nil
	}

	tmpl, ok := tmpls.html[m.TemplateName]
	if !ok {
		return nil
	}
	var buff bytes.Buffer
	if err := tmpl.Execute(&buff, m.contextData(tmpls)); err != nil {
		return err
	}
	m.HTMLContent = buff.String()
	return nil
}

// Render fills TextContent & HTMLContent. A nil `tmpls` only renders BodyStr.
func (m *EmailMessage) Render(tmpls *EmailTemplates) error {
	if err := m.renderText(tmpls); err != nil {
		return errors.Wrap(err, "rendering text content")
	}
	return errors.Wrap(m.renderHTML(tmpls), "rendering html content")
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
