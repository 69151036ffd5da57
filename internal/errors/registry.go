package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://github.com/vango-dev/acceptd/blob/main/docs/errors.md#"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid acceptd.json",
		Detail:   "The acceptd.json configuration file is malformed.",
		DocURL:   docBase + "e120",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
		Detail:   "A required configuration value is not set.",
		DocURL:   docBase + "e121",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range.",
		DocURL:   docBase + "e122",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   `Durations are written as Go duration strings such as "1s", "250ms" or "0" to disable.`,
		DocURL:   docBase + "e123",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Configuration file already exists",
		Detail:   "An acceptd.json file already exists in this directory.",
		DocURL:   docBase + "e140",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "Configuration file not found",
		Detail:   "No acceptd.json was found at the given location.",
		DocURL:   docBase + "e141",
	},
	"E142": {
		Category: CategoryCLI,
		Message:  "Probe failed",
		Detail:   "The probe could not complete a request/response exchange with the server.",
		DocURL:   docBase + "e142",
	},
	"E143": {
		Category: CategoryCLI,
		Message:  "Invalid response source",
		Detail:   `The response source must be one of "default", "file" or "s3".`,
		DocURL:   docBase + "e143",
	},

	// ============================================
	// Network Errors (E200-E219)
	// ============================================

	"E200": {
		Category: CategoryNetwork,
		Message:  "Bind failed",
		Detail:   "The server could not create a socket or bind it to the configured address and port.",
		DocURL:   docBase + "e200",
	},
	"E201": {
		Category: CategoryNetwork,
		Message:  "Listen failed",
		Detail:   "The bound socket could not be marked as listening.",
		DocURL:   docBase + "e201",
	},
	"E202": {
		Category: CategoryNetwork,
		Message:  "Accept loop failed",
		Detail:   "The accept loop stopped because the listening socket became unusable.",
		DocURL:   docBase + "e202",
	},
	"E203": {
		Category: CategoryNetwork,
		Message:  "Admin server failed",
		Detail:   "The admin HTTP server could not bind its address.",
		DocURL:   docBase + "e203",
	},
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
