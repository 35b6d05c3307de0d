package config

import (
	"fmt"
	"os"
)

// Template is a starter plcctl.toml with every setting at its default.
func Template() string { return template }

// WriteTemplate writes Template to path. An existing file is kept unless
// overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const template = `# plcctl configuration. Credentials may instead come from PLCCTL_USERNAME,
# PLCCTL_PASSWORD and PLCCTL_SSH_PASSWORD (a .env file is read if present).

[controller]
scheme = "http"
host = "127.0.0.1"
port = 8080
username = "openplc"
password = "openplc"
login_path = "login"
timeout = "30s"
# https consoles with a self-signed certificate
ca_file = ""
insecure_skip_verify = false

# SSH access to the controller host, used to compare uploaded programs with
# their stored copies. Leave host empty to always rebuild.
[mirror]
host = ""
port = 22
user = ""
key_path = ""
known_hosts = ""
insecure_skip_host_key = false
root = "/src/webserver/st_files/"
timeout = "10s"

[poll]
interval = "2s"
multiplier = 1.0
max_interval = "0s"
jitter = false
max_attempts = 0

[serve]
addr = ":9000"
cors_origins = []
token = ""
shutdown_timeout = "10s"
`
