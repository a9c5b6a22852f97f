package core

import (
	"context"
	"fmt"
	"net/url"
	"triagem/lib/portal"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/codes"
)

type LoginFormOptions struct {
	// Path of the page carrying the login form.
	Path string
	// FormSelector picks the form, "form" when empty.
	FormSelector  string
	UsernameField string
	PasswordField string
	Username      string
	Password      string
	// LoggedInSelector must match something on the page reached after
	// posting the form, otherwise the login is considered rejected.
	LoggedInSelector string
}

// FormValues harvests every named input of a form, hidden tokens included.
func FormValues(form *goquery.Selection) map[string]string {
	values := map[string]string{}
	form.Find("input[name]").Each(func(_ int, input *goquery.Selection) {
		kind := input.AttrOr("type", "text")
		if kind == "submit" || kind == "button" || kind == "image" {
			return
		}
		if (kind == "checkbox" || kind == "radio") && !input.Is("[checked]") {
			return
		}
		values[input.AttrOr("name", "")] = input.AttrOr("value", "")
	})
	form.Find("select[name]").Each(func(_ int, sel *goquery.Selection) {
		option := sel.Find("option[selected]").First()
		if option.Length() == 0 {
			option = sel.Find("option").First()
		}
		values[sel.AttrOr("name", "")] = option.AttrOr("value", "")
	})
	return values
}

// FormAction resolves where a form posts to, relative to the page it was
// found on.
func FormAction(doc *goquery.Document, form *goquery.Selection) string {
	action := form.AttrOr("action", "")
	if doc.Url == nil {
		return action
	}
	ref, err := url.Parse(action)
	if err != nil {
		return doc.Url.String()
	}
	return doc.Url.ResolveReference(ref).String()
}

// LoginForm fetches the login page, fills the credentials in next to the
// hidden fields it carries and submits it.
func (c *Client) LoginForm(ctx context.Context, opts LoginFormOptions) (*goquery.Document, error) {
	ctx, span := tracer.Start(ctx, "client:LoginForm")
	defer span.End()

	doc, err := c.Document(ctx, opts.Path, nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return nil, err
	}

	selector := opts.FormSelector
	if selector == "" {
		selector = "form"
	}
	form := doc.Find(selector).First()
	if form.Length() == 0 {
		span.SetStatus(codes.Error, "could not find login form")
		return nil, fmt.Errorf("could not find login form %q", selector)
	}

	values := FormValues(form)
	values[opts.UsernameField] = opts.Username
	values[opts.PasswordField] = opts.Password

	page, err := c.PostForm(ctx, FormAction(doc, form), values)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to make login request")
		return nil, err
	}

	if page.Find(opts.LoggedInSelector).Length() == 0 {
		span.SetStatus(codes.Error, portal.ErrLoginFailed.Error())
		return nil, portal.ErrLoginFailed
	}
	return page, nil
}
