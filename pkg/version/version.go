package version

// Current defines the application version.
// It defaults to "dev" but is overwritten at build time using -ldflags.
var Current = "dev"

const AppName = "hth"

// UserAgent is sent on every vendor API request.
func UserAgent() string {
	return AppName + "/" + Current + " (https://howtoharden.com)"
}
