package ims

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
)

// Configured returns a portal client configured from flags. The credentials
// are only remembered; no login happens until the first update cycle.
func Configured() *Client {
	c := NewClient(DefaultBaseURL, time.Minute)

	username := lflag.RequiredString("ims-username", "SSD IMS portal username")
	password := lflag.RequiredString("ims-password", "SSD IMS portal password")
	baseURL := lflag.String("ims-api-url", DefaultBaseURL, "Base URL of the SSD IMS API")
	timeout := lflag.Duration("ims-timeout", time.Minute, "Timeout for a single request to the SSD IMS API")

	lflag.Do(func() {
		if *timeout <= 0 {
			panic(fmt.Sprintf("ims-timeout must be positive: %v", *timeout))
		}
		c.baseURL = *baseURL
		c.client.Timeout = *timeout
		c.username = *username
		c.password = *password
	})

	return c
}
