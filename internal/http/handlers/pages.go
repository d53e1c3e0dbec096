package handlers

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/formrelay/formrelay/internal/captcha"
	"github.com/formrelay/formrelay/internal/domain"
	"github.com/formrelay/formrelay/internal/http/middleware"
)

//go:embed templates/*.html
var pageFS embed.FS

var pages = template.Must(template.New("").ParseFS(pageFS, "templates/*.html"))

// chrome is shared by every page.
type chrome struct {
	Lang        string
	Title       string
	ServiceName string
	// Nonce tags inline scripts for the Content-Security-Policy.
	Nonce string
}

func (ch *chrome) setNonce(n string) { ch.Nonce = n }

type view interface{ setNonce(string) }

// infoPage is a titled message with an optional button.
type infoPage struct {
	chrome
	Paragraphs []string
	Link       string
	LinkText   string
}

type captchaPage struct {
	chrome
	Strings   captcha.PageStrings
	Action    string
	Fields    domain.Fields
	HostNonce string
	SiteKey   string
}

type siblingForm struct {
	HashID string
	Host   string
}

type unconfirmPage struct {
	chrome
	Email  string
	Host   string
	Action string
	Others []siblingForm
}

func info(title string, paragraphs ...string) infoPage {
	return infoPage{chrome: chrome{Title: title}, Paragraphs: paragraphs}
}

func (p infoPage) withLink(href, text string) infoPage {
	p.Link, p.LinkText = href, text
	return p
}

func (h *Handlers) render(c *gin.Context, status int, name string, data view) {
	data.setNonce(middleware.CSPNonce(c))
	c.Render(status, render.HTML{Template: pages, Name: name, Data: data})
}

func (h *Handlers) page(c *gin.Context, status int, p infoPage) {
	p.ServiceName = h.serviceName
	h.render(c, status, "page.html", &p)
}

// respond writes body as JSON for scripts and p as an HTML page for
// browsers.
func (h *Handlers) respond(c *gin.Context, asJSON bool, status int, body gin.H, p infoPage) {
	if status >= http.StatusInternalServerError {
		lg := loggerFrom(c)
		lg.Error().Int("status", status).Interface("body", body).Msg("public error")
	}
	if asJSON {
		c.JSON(status, body)
		return
	}
	h.page(c, status, p)
}

// internalError logs err and answers with a generic failure.
func (h *Handlers) internalError(c *gin.Context, asJSON bool, err error) {
	lg := loggerFrom(c)
	lg.Error().Err(err).Msg("request failed")
	if asJSON {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	h.page(c, http.StatusInternalServerError, info("Unable to submit form",
		"Something went wrong on our side. Please try again in a few minutes."))
}
