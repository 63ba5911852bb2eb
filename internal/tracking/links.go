package tracking

import (
	"net/url"
	"strings"
)

// Links builds the public tracking URLs an email body embeds.
type Links struct {
	BaseURL string
}

func (l Links) base() string {
	return strings.TrimRight(l.BaseURL, "/")
}

// Pixel returns the open-tracking image URL.
func (l Links) Pixel(t Token) (string, error) {
	tok, err := Encode(Token{LeadID: t.LeadID, CampaignLeadID: t.CampaignLeadID, CampaignStepID: t.CampaignStepID})
	if err != nil {
		return "", err
	}
	return l.base() + "/o.png?id=" + url.QueryEscape(tok), nil
}

// Redirect returns a click-tracking URL for dest. dest is carried both inside the
// token and as a plain fallback so the redirect still works if the token is mangled.
func (l Links) Redirect(t Token, dest string) (string, error) {
	t.OriginalURL = dest
	tok, err := Encode(t)
	if err != nil {
		return "", err
	}
	return l.base() + "/r/" + tok + "?url=" + url.QueryEscape(dest), nil
}

// Unsubscribe returns the one-click unsubscribe URL.
func (l Links) Unsubscribe(t Token) (string, error) {
	tok, err := Encode(Token{LeadID: t.LeadID, CampaignLeadID: t.CampaignLeadID, CampaignStepID: t.CampaignStepID})
	if err != nil {
		return "", err
	}
	return l.base() + "/unsubscribe/" + tok, nil
}
