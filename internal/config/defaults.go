package config

var defaults = map[string]any{
	"access_password":   "",
	"access_jwt_secret": "",
	"admin_email":       "",
	"log_level":         "info",
	"listen":            ":8080",
	"base_url":          "",

	"allowed_networks": "",
	"cors_origins":     []string{},
	"cookie_secure":    true,

	"user_auth_ttl": 7, // 7 days
	"nonce_store":   "memory",
	"locale":        "ja",

	"talk_session_recheck": "30s",

	"rbac.policy_file": "",

	"storage.type":        "sqlite",
	"storage.sqlite.path": "./data/rentals.db",

	"identity.type": "local",

	"blob.type":          "local",
	"blob.bucket":        "rentals",
	"blob.local.path":    "./data/blobs",
	"blob.s3.endpoint":   "",
	"blob.s3.region":     "us-east-1",
	"blob.s3.access_key": "",
	"blob.s3.secret_key": "",

	"broker.type": "memory",

	"redis.addr":     "localhost:6379",
	"redis.password": "",
	"redis.db":       0,

	"firebase.project_id":       "",
	"firebase.credentials_file": "",
	"firebase.api_key":          "",
	"firebase.storage_bucket":   "",

	"email.host":     "",
	"email.port":     25,
	"email.username": "",
	"email.password": "",
	"email.from":     "noreply@example.com",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
