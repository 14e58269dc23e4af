package config

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 7778
	defaultEnv        = "development"

	defaultPortalAPIBaseURL   = "http://localhost:7777"
	defaultPortalAPITimeout   = 30
	defaultDeleteConcurrency  = 8
	defaultUploadRateLimit    = 10
	defaultSettleDelayMS      = 200
	defaultSessionIdleTTL     = 30 * 60
	defaultSessionSweepEvery  = 60
	defaultStaleUploadMinutes = 120
	defaultStaleSweepMinutes  = 60

	defaultDBHost    = "127.0.0.1"
	defaultDBPort    = 3306
	defaultDBUser    = "root"
	defaultDBName    = "school_portal"
	defaultDBCharset = "utf8mb4"
	defaultDBLoc     = "Local"
	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	defaultRedisDB   = 0
)

// DefaultEditorRoles are the roles allowed to open announcement and gallery forms.
var DefaultEditorRoles = []string{"adminStudent"}

// DefaultEditorPlaceholders is the boilerplate markup the WYSIWYG surface
// injects into an empty document.
var DefaultEditorPlaceholders = []string{
	"<p>Write</p>",
	"<p>Preview</p>",
	"<p>Start writing your announcement...</p>",
	"<p>Markdown</p>",
	"<p>WYSIWYG</p>",
	"<p></p>",
}
