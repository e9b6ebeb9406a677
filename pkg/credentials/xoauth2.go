package credentials

import (
	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the XOAUTH2 SASL mechanism. go-sasl only ships
// OAUTHBEARER, but Gmail and Outlook speak XOAUTH2.
type xoauth2Client struct {
	username string
	token    string
}

// NewXOAuth2 returns a sasl.Client for the XOAUTH2 mechanism with the given
// username and bearer access token.
func NewXOAuth2(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// The server sends a base64 JSON error blob on failure; an empty reply
	// asks it to finish the exchange with a tagged NO.
	return []byte{}, nil
}
