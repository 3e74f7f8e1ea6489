package launch

import _ "embed"

// Default header and trailer wrapped around the workload script when no
// override files are supplied.
var (
	//go:embed scripts/header.sh
	DefaultHeader string

	//go:embed scripts/trailer.sh
	DefaultTrailer string
)

// StandardVars builds the substitution set historically injected into
// every payload. Extra vars merge over it, later keys winning.
func StandardVars(token, accessKey, secretKey, slackHook, binjaKey, runName string, extra Vars) Vars {
	vars := Vars{
		"DO_TOKEN":              token,
		"AWS_ACCESS_KEY_ID":     accessKey,
		"AWS_SECRET_ACCESS_KEY": secretKey,
		"SLACK_HOOK":            slackHook,
		"BINJA_DECODE_KEY":      binjaKey,
		"RUN_NAME":              runName,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}
