package cfg

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"
	"gitlab.com/tozd/go/errors"
)

// Ledger backends
const (
	LedgerPebble = "pebble" // Embedded Pebble store under data_dir
	LedgerSQLite = "sqlite" // SQLite file under data_dir
	LedgerMongo  = "mongo"  // MongoDB collection
	LedgerMemory = "memory" // Process memory, lost on exit
)

// SourceConfiguration describes the shared folder that is scanned for catalogs
type SourceConfiguration struct {
	Path     string   `toml:"path"`
	Patterns []string `toml:"patterns"` // Glob patterns matched against file names
	Exclude  []string `toml:"exclude"`  // Glob patterns that are never published
}

// LocalConfiguration describes the local mirror folder
type LocalConfiguration struct {
	Path string `toml:"path"`
}

// DriveConfiguration for the cloud storage folder
type DriveConfiguration struct {
	Enabled            bool   `toml:"enabled"`
	ServiceAccountFile string `toml:"service_account_file"`
	FolderID           string `toml:"folder_id"`
}

// FTPConfiguration for the remote publication server
type FTPConfiguration struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	UploadPath     string `toml:"upload_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Address returns host:port for dialing
func (f FTPConfiguration) Address() string {
	return fmt.Sprintf("%s:%d", f.Host, f.Port)
}

// LedgerConfiguration controls where stage records are persisted
type LedgerConfiguration struct {
	Backend         string `toml:"backend"`
	Path            string `toml:"path"` // Defaults to data_dir/ledger (pebble) or data_dir/ledger.db (sqlite)
	BusyTimeoutMS   int    `toml:"busy_timeout_ms"`
	MongoURI        string `toml:"mongo_uri"`
	MongoDatabase   string `toml:"mongo_database"`
	MongoCollection string `toml:"mongo_collection"`
	RetentionHours  int    `toml:"retention_hours"` // 0 keeps records forever
}

// SlackConfiguration for incoming-webhook notifications
type SlackConfiguration struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhook_url"`
	Channel    string `toml:"channel"`
	Username   string `toml:"username"`
}

// EmailConfiguration for SMTP notifications
type EmailConfiguration struct {
	Enabled    bool     `toml:"enabled"`
	SMTPServer string   `toml:"smtp_server"`
	SMTPPort   int      `toml:"smtp_port"`
	Sender     string   `toml:"sender"`
	Password   string   `toml:"password"`
	Recipients []string `toml:"recipients"`
}

// NATSConfiguration for publishing notifications on a NATS subject
type NATSConfiguration struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// KafkaConfiguration for publishing notifications on a Kafka topic
type KafkaConfiguration struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// NotifyConfiguration controls notification transports
type NotifyConfiguration struct {
	QueueSize      int                `toml:"queue_size"`
	TimeoutSeconds int                `toml:"timeout_seconds"` // Per-delivery timeout
	Slack          SlackConfiguration `toml:"slack"`
	Email          EmailConfiguration `toml:"email"`
	NATS           NATSConfiguration  `toml:"nats"`
	Kafka          KafkaConfiguration `toml:"kafka"`
}

// ScheduleConfiguration controls the recurring run loop
type ScheduleConfiguration struct {
	IntervalMinutes int   `toml:"interval_minutes"`
	StartHour       int   `toml:"start_hour"` // Inclusive, local time
	EndHour         int   `toml:"end_hour"`   // Inclusive; window disabled when end_hour <= start_hour
	Weekdays        []int `toml:"weekdays"`   // 0=Sunday..6=Saturday, empty = every day
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
	Dir     string `toml:"dir"`    // Daily log files, empty disables
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfiguration for the HTTP admin API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Secret  string `toml:"secret"`
}

// Configuration is the main configuration structure
type Configuration struct {
	PublisherID string `toml:"publisher_id"`
	DataDir     string `toml:"data_dir"`

	Source     SourceConfiguration     `toml:"source"`
	Local      LocalConfiguration      `toml:"local"`
	Drive      DriveConfiguration      `toml:"drive"`
	FTP        FTPConfiguration        `toml:"ftp"`
	Ledger     LedgerConfiguration     `toml:"ledger"`
	Notify     NotifyConfiguration     `toml:"notify"`
	Schedule   ScheduleConfiguration   `toml:"schedule"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`

	// Mapping from raw catalog file name to published name. When the config
	// file has no [mapping] table the built-in table is used.
	Mapping map[string]string `toml:"mapping"`

	// LoadedFrom is the config file actually decoded, empty when defaults were used
	LoadedFrom string `toml:"-"`
}

// Default returns a configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		DataDir: "./catalogpub-data",

		Source: SourceConfiguration{
			Path:     `\\dataserver\Comunes\MARKETING\01.CATALOGOS SELK\PUBLICACION_CATALOGOS`,
			Patterns: []string{"*.pdf"},
		},

		Local: LocalConfiguration{
			Path: `\\dataserver\Comunes\MARKETING\01.CATALOGOS SELK`,
		},

		Drive: DriveConfiguration{
			Enabled:            true,
			ServiceAccountFile: "credentials-service.json",
		},

		FTP: FTPConfiguration{
			Port:           21,
			UploadPath:     "/selk/upload/productos",
			TimeoutSeconds: 30,
		},

		Ledger: LedgerConfiguration{
			Backend:         LedgerPebble,
			BusyTimeoutMS:   5000,
			MongoURI:        "mongodb://localhost:27017/",
			MongoDatabase:   "catalog_db",
			MongoCollection: "catalog_operations",
		},

		Notify: NotifyConfiguration{
			QueueSize:      64,
			TimeoutSeconds: 15,
			Slack: SlackConfiguration{
				Channel:  "#catalog-publication",
				Username: "Catalog-Bot",
			},
			Email: EmailConfiguration{
				SMTPServer: "smtp.office365.com",
				SMTPPort:   587,
			},
			NATS: NATSConfiguration{
				URL:     "nats://127.0.0.1:4222",
				Subject: "catalogpub.notifications",
			},
			Kafka: KafkaConfiguration{
				Topic: "catalogpub.notifications",
			},
		},

		Schedule: ScheduleConfiguration{
			IntervalMinutes: 15,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Admin: AdminConfiguration{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9480,
		},
	}
}

// DefaultMapping returns the built-in catalog name table
func DefaultMapping() map[string]string {
	return map[string]string{
		"ANCLAJES Y FIJACIONES.pdf":              "ANCLAJES_FIJACIONES.pdf",
		"CINTAS TECNICAS.pdf":                    "CINTAS_TECNICAS.pdf",
		"CLIMATIZACION.pdf":                      "CLIMATIZACION.pdf",
		"CORTE Y PERFORACION.pdf":                "CORTE_PERFORACION.pdf",
		"CORTE, LIJADO Y PULIDO.pdf":             "CORTE_LIJADO_PULIDO.pdf",
		"EMBALAJES.pdf":                          "EMBALAJES.pdf",
		"EQUIPAMIENTO DE CONSTRUCCION.pdf":       "EQUIPAMIENTO_CONSTRUCCION.pdf",
		"EQUIPAMIENTO DE TALLER.pdf":             "EQUIPAMIENTO_TALLER.pdf",
		"GRIFERIA.pdf":                           "GRIFERIA.pdf",
		"GUIAS, SOPORTES, ABRAZADERAS.pdf":       "GUIAS_SOPORTES_ABRAZDERAS.pdf",
		"HERRAMIENTA ELECTRICA.pdf":              "HERRAMIENTA_ELECTRICA.pdf",
		"HERRAMIENTA MANUAL.pdf":                 "HERRAMIENTA_MANUAL.pdf",
		"HERRAMIENTA MEDICION.pdf":               "HERRAMIENTA_MEDICION.pdf",
		"HERRAMIENTA Y ACCESORIOS NEUMATICA.pdf": "HERRAMIENTA_ACCESORIOS_NEUMATICA.pdf",
		"ILUMINACION.pdf":                        "ILUMINACION.pdf",
		"LIMPIEZA INDUSTRIAL.pdf":                "LIMPIEZA_INDUSTRIAL.pdf",
		"PEQUEÑO MATERIAL ELECTRICO.pdf":         "PEQUENIO_MATERIAL_ELECTRICO.pdf",
		"PEQUEÑO MATERIAL SANITARIO.pdf":         "PEQUENIO_MATERIAL_SANITARIO.pdf",
		"QUIMICOS.pdf":                           "QUIMICOS.pdf",
		"REMACHES.pdf":                           "REMACHES.pdf",
		"REPARACION DE ROSCAS.pdf":               "REPARACION_ROSCAS.pdf",
		"ROPA LABORAL.pdf":                       "ROPA_LABORAL.pdf",
		"SEGURIDAD LABORAL.pdf":                  "SEGURIDAD_LABORAL.pdf",
		"SELLADO Y PEGADO.pdf":                   "SELLADO_PEGADO.pdf",
		"SOLDADURA.pdf":                          "SOLDADURA.pdf",
		"TORNILLERIA.pdf":                        "TORNILLERIA.pdf",
		"FIJACION SOLAR.pdf":                     "FIJACION_SOLAR.pdf",
		"PEQUEÑO MATERIAL CARPINTERIA.pdf":       "PEQUENIO_MATERIAL_CARPINTERIA.pdf",
	}
}

// Load builds a configuration from defaults, the TOML file at configPath (if
// present), the dotenv file at envFile (if present) and the process
// environment, in that order of precedence.
func Load(configPath, envFile string) (*Configuration, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if _, err := toml.DecodeFile(configPath, config); err != nil {
				return nil, errors.Errorf("decoding config %s: %w", configPath, err)
			}
			config.LoadedFrom = configPath
		}
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, errors.Errorf("loading env file %s: %w", envFile, err)
			}
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if len(config.Mapping) == 0 {
		config.Mapping = DefaultMapping()
	}

	if config.PublisherID == "" {
		config.PublisherID = generatePublisherID()
	}

	return config, nil
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment variables the publisher has
// always honored.
func (c *Configuration) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}

	str("SOURCE_PATH", &c.Source.Path)
	str("DEST_PATH", &c.Local.Path)
	str("GOOGLE_SERVICE_ACCOUNT_FILE", &c.Drive.ServiceAccountFile)
	str("GOOGLE_DRIVE_FOLDER_ID", &c.Drive.FolderID)
	str("FTP_HOST", &c.FTP.Host)
	str("FTP_USER", &c.FTP.User)
	str("FTP_PASSWORD", &c.FTP.Password)
	str("FTP_UPLOAD_PATH", &c.FTP.UploadPath)
	str("MONGO_URI", &c.Ledger.MongoURI)
	str("MONGO_DB", &c.Ledger.MongoDatabase)
	str("MONGO_COLLECTION", &c.Ledger.MongoCollection)
	str("SMTP_SERVER", &c.Notify.Email.SMTPServer)
	str("SENDER_EMAIL", &c.Notify.Email.Sender)
	str("SENDER_PASSWORD", &c.Notify.Email.Password)
	str("SLACK_WEBHOOK_URL", &c.Notify.Slack.WebhookURL)
	str("SLACK_CHANNEL", &c.Notify.Slack.Channel)
	str("SLACK_USERNAME", &c.Notify.Slack.Username)
	flag("EMAIL_NOTIFICATIONS_ENABLED", &c.Notify.Email.Enabled)
	flag("SLACK_NOTIFICATIONS_ENABLED", &c.Notify.Slack.Enabled)

	if v, ok := lookup("NOTIFICATION_EMAILS"); ok && v != "" {
		c.Notify.Email.Recipients = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Verbose = strings.EqualFold(v, "debug")
	}

	for key, dst := range map[string]*int{
		"FTP_PORT":      &c.FTP.Port,
		"SMTP_PORT":     &c.Notify.Email.SMTPPort,
		"SCHEDULE_TIME": &c.Schedule.IntervalMinutes,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// LedgerPath returns the on-disk location for file-backed ledgers
func (c *Configuration) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	if c.Ledger.Backend == LedgerSQLite {
		return filepath.Join(c.DataDir, "ledger.db")
	}
	return c.DataDir
}

// Validate checks configuration for errors that make a run impossible
func (c *Configuration) Validate() error {
	if c.Source.Path == "" {
		return errors.New("source path is required")
	}
	if c.Local.Path == "" {
		return errors.New("local mirror path is required")
	}
	if len(c.Source.Patterns) == 0 {
		return errors.New("at least one source pattern is required")
	}
	if len(c.Mapping) == 0 {
		return errors.New("catalog name mapping is empty")
	}

	if c.Schedule.IntervalMinutes < 1 {
		return errors.Errorf("schedule interval must be >= 1 minute, got %d", c.Schedule.IntervalMinutes)
	}
	if c.Schedule.StartHour < 0 || c.Schedule.StartHour > 23 {
		return errors.Errorf("invalid schedule start hour: %d", c.Schedule.StartHour)
	}
	if c.Schedule.EndHour < 0 || c.Schedule.EndHour > 23 {
		return errors.Errorf("invalid schedule end hour: %d", c.Schedule.EndHour)
	}
	for _, d := range c.Schedule.Weekdays {
		if d < 0 || d > 6 {
			return errors.Errorf("invalid schedule weekday: %d", d)
		}
	}

	if c.FTP.Port < 1 || c.FTP.Port > 65535 {
		return errors.Errorf("invalid FTP port: %d", c.FTP.Port)
	}
	if c.FTP.TimeoutSeconds < 1 {
		return errors.New("FTP timeout must be >= 1 second")
	}

	switch c.Ledger.Backend {
	case LedgerPebble, LedgerSQLite, LedgerMemory:
	case LedgerMongo:
		if c.Ledger.MongoURI == "" {
			return errors.New("mongo ledger requires mongo_uri")
		}
	default:
		return errors.Errorf("unknown ledger backend: %s", c.Ledger.Backend)
	}
	if c.Ledger.RetentionHours < 0 {
		return errors.New("ledger retention hours must be >= 0")
	}

	if c.Notify.QueueSize < 1 {
		return errors.New("notification queue size must be >= 1")
	}
	if c.Notify.Slack.Enabled && c.Notify.Slack.WebhookURL == "" {
		return errors.New("slack notifications require webhook_url")
	}
	if c.Notify.Email.Enabled && len(c.Notify.Email.Recipients) == 0 {
		return errors.New("email notifications require at least one recipient")
	}
	if c.Notify.Kafka.Enabled && len(c.Notify.Kafka.Brokers) == 0 {
		return errors.New("kafka notifications require at least one broker")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return errors.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return errors.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	return nil
}

// Warnings lists settings that leave some stage unable to succeed. The
// publisher still starts; those stages fail and their files stay in the
// source folder.
func (c *Configuration) Warnings() []string {
	var warnings []string
	if c.FTP.Host == "" {
		warnings = append(warnings, "FTP host is not configured")
	}
	if c.FTP.User == "" {
		warnings = append(warnings, "FTP user is not configured")
	}
	if c.FTP.Password == "" {
		warnings = append(warnings, "FTP password is not configured")
	}
	if !c.Drive.Enabled {
		warnings = append(warnings, "cloud stage is disabled")
	} else if c.Drive.FolderID == "" {
		warnings = append(warnings, "cloud folder id is not configured")
	}
	return warnings
}

// generatePublisherID derives a stable identifier from the machine ID
func generatePublisherID() string {
	id, err := machineid.ProtectedID("catalogpub")
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil {
			return "catalogpub"
		}
		id = host
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return fmt.Sprintf("%016x", h.Sum64())
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
