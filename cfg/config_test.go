package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func validConfig() *Configuration {
	c := Default()
	c.Mapping = DefaultMapping()
	c.PublisherID = "test"
	return c
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestDefaultMappingHasBuiltInCatalogs(t *testing.T) {
	m := DefaultMapping()
	assert.Len(t, m, 28)
	assert.Equal(t, "SOLDADURA.pdf", m["SOLDADURA.pdf"])
	assert.Equal(t, "PEQUENIO_MATERIAL_ELECTRICO.pdf", m["PEQUEÑO MATERIAL ELECTRICO.pdf"])
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Load(filepath.Join(dir, "missing.toml"), "")
	require.NoError(t, err)

	assert.Empty(t, c.LoadedFrom)
	assert.Equal(t, 15, c.Schedule.IntervalMinutes)
	assert.Equal(t, LedgerPebble, c.Ledger.Backend)
	assert.Len(t, c.Mapping, 28)
	assert.NotEmpty(t, c.PublisherID)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogpub.toml")
	content := `
publisher_id = "office-1"
data_dir = "/var/lib/catalogpub"

[source]
path = "/mnt/catalogs/incoming"

[ftp]
host = "ftp.example.com"
port = 2121

[ledger]
backend = "sqlite"
retention_hours = 72

[schedule]
interval_minutes = 5
start_hour = 8
end_hour = 16
weekdays = [1, 2, 3, 4, 5]

[mapping]
"SOLDADURA.pdf" = "SOLDADURA.pdf"
"X Y.pdf" = "X_Y.pdf"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, path, c.LoadedFrom)
	assert.Equal(t, "office-1", c.PublisherID)
	assert.Equal(t, "/mnt/catalogs/incoming", c.Source.Path)
	assert.Equal(t, []string{"*.pdf"}, c.Source.Patterns)
	assert.Equal(t, "ftp.example.com", c.FTP.Host)
	assert.Equal(t, 2121, c.FTP.Port)
	assert.Equal(t, "/selk/upload/productos", c.FTP.UploadPath)
	assert.Equal(t, LedgerSQLite, c.Ledger.Backend)
	assert.Equal(t, filepath.Join("/var/lib/catalogpub", "ledger.db"), c.LedgerPath())
	assert.Equal(t, 72, c.Ledger.RetentionHours)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, c.Schedule.Weekdays)

	// A [mapping] table replaces the built-in one
	assert.Len(t, c.Mapping, 2)
	assert.Equal(t, "X_Y.pdf", c.Mapping["X Y.pdf"])
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[source\npath="), 0644))

	_, err := Load(path, "")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	c := validConfig()
	err := c.ApplyEnv(envMap(map[string]string{
		"SOURCE_PATH":                 "/src",
		"DEST_PATH":                   "/dst",
		"FTP_HOST":                    "ftp.selk.es",
		"FTP_PORT":                    "2100",
		"FTP_USER":                    "publisher",
		"FTP_PASSWORD":                "secret",
		"SCHEDULE_TIME":               "30",
		"NOTIFICATION_EMAILS":         "a@example.com; b@example.com,",
		"EMAIL_NOTIFICATIONS_ENABLED": "TRUE",
		"SLACK_NOTIFICATIONS_ENABLED": "false",
		"LOG_LEVEL":                   "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/src", c.Source.Path)
	assert.Equal(t, "/dst", c.Local.Path)
	assert.Equal(t, "ftp.selk.es", c.FTP.Host)
	assert.Equal(t, 2100, c.FTP.Port)
	assert.Equal(t, "ftp.selk.es:2100", c.FTP.Address())
	assert.Equal(t, 30, c.Schedule.IntervalMinutes)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, c.Notify.Email.Recipients)
	assert.True(t, c.Notify.Email.Enabled)
	assert.False(t, c.Notify.Slack.Enabled)
	assert.True(t, c.Logging.Verbose)
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	c := validConfig()
	err := c.ApplyEnv(envMap(map[string]string{"FTP_PORT": "twenty-one"}))
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GOOGLE_DRIVE_FOLDER_ID=folder-from-env\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("GOOGLE_DRIVE_FOLDER_ID") })

	c, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "folder-from-env", c.Drive.FolderID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"empty source", func(c *Configuration) { c.Source.Path = "" }},
		{"empty local", func(c *Configuration) { c.Local.Path = "" }},
		{"no patterns", func(c *Configuration) { c.Source.Patterns = nil }},
		{"empty mapping", func(c *Configuration) { c.Mapping = nil }},
		{"zero interval", func(c *Configuration) { c.Schedule.IntervalMinutes = 0 }},
		{"bad start hour", func(c *Configuration) { c.Schedule.StartHour = 24 }},
		{"bad weekday", func(c *Configuration) { c.Schedule.Weekdays = []int{7} }},
		{"bad ftp port", func(c *Configuration) { c.FTP.Port = 70000 }},
		{"zero ftp timeout", func(c *Configuration) { c.FTP.TimeoutSeconds = 0 }},
		{"unknown ledger", func(c *Configuration) { c.Ledger.Backend = "redis" }},
		{"mongo without uri", func(c *Configuration) { c.Ledger.Backend = LedgerMongo; c.Ledger.MongoURI = "" }},
		{"negative retention", func(c *Configuration) { c.Ledger.RetentionHours = -1 }},
		{"slack without webhook", func(c *Configuration) { c.Notify.Slack.Enabled = true }},
		{"email without recipients", func(c *Configuration) { c.Notify.Email.Enabled = true }},
		{"kafka without brokers", func(c *Configuration) { c.Notify.Kafka.Enabled = true }},
		{"admin bad port", func(c *Configuration) { c.Admin.Enabled = true; c.Admin.Port = 0 }},
		{"bad log format", func(c *Configuration) { c.Logging.Format = "xml" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestWarnings(t *testing.T) {
	c := validConfig()
	c.Drive.FolderID = ""
	warnings := c.Warnings()
	assert.Contains(t, warnings, "FTP host is not configured")
	assert.Contains(t, warnings, "FTP password is not configured")
	assert.Contains(t, warnings, "cloud folder id is not configured")

	c.FTP.Host, c.FTP.User, c.FTP.Password = "h", "u", "p"
	c.Drive.FolderID = "folder"
	assert.Empty(t, c.Warnings())
}
