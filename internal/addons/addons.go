// Package addons ships the bundled mitmproxy addon scripts.
package addons

import (
	_ "embed"
	"os"
	"path/filepath"
)

//go:embed redirect_from_donations.py
var donationRedirectScript []byte

// DonationRedirectScriptName is the file name under which we
// materialize the donation redirect addon.
const DonationRedirectScriptName = "redirect_from_donations.py"

// WriteDonationRedirect writes the bundled donation redirect addon
// into dir and returns the path at which it can be registered.
func WriteDonationRedirect(dir string) (string, error) {
	path := filepath.Join(dir, DonationRedirectScriptName)
	if err := os.WriteFile(path, donationRedirectScript, 0600); err != nil {
		return "", err
	}
	return path, nil
}
