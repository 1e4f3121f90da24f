package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide explains where the pixiv access token and the fanbox
// session cookie come from
func ShowTokenGuide(w io.Writer) {
	p := func(lines ...string) {
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}

	p(strings.Repeat("=", 80),
		"CREDENTIAL GUIDE",
		strings.Repeat("=", 80),
		"",
		"pixivdl needs a pixiv access token for bookmarks and works, and a",
		"fanbox session cookie for fanbox creators. You only need the one for",
		"the feeds you mirror.",
		"",
		"PIXIV ACCESS TOKEN",
		"   1. Obtain a refresh token with any pixiv OAuth helper (PKCE login flow)",
		"   2. Exchange it at https://oauth.secure.pixiv.net/auth/token",
		"   3. Paste the resulting access token when prompted",
		"   Access tokens expire after about an hour; a 401 or invalid_grant",
		"   response means it is time to log in again.",
		"",
		"FANBOX SESSION",
		"   1. Log in at https://www.fanbox.cc in your browser",
		"   2. Open Developer Tools (F12) and go to Application/Storage > Cookies",
		"   3. Copy the value of the FANBOXSESSID cookie for .fanbox.cc",
		"   A full cookie header (FANBOXSESSID=...; other=...) is accepted too.",
		"",
		"ENVIRONMENT",
		"   "+EnvAccessToken+", "+EnvUserID+" and "+EnvSessionID,
		"   override anything stored with 'pixivdl auth login'.",
		"",
		"SECURITY",
		"   These values grant full access to your account. Never share them.",
		"   Stored credentials are kept in the system keychain or an encrypted file.",
		strings.Repeat("=", 80),
	)
}

// ShowQuickGuide shows a condensed version for experienced users
func ShowQuickGuide(w io.Writer) {
	fmt.Fprintln(w, "\nNeed: pixiv access token (bookmarks/works) and/or FANBOXSESSID cookie (fanbox)")
	fmt.Fprintln(w, "   Type 'help' for detailed instructions")
}
