package config

type Storage struct {
	Type   string        `mapstructure:"type"` // sqlite | firestore
	SQLite SQLiteStorage `mapstructure:"sqlite"`
}

type SQLiteStorage struct {
	Path string `mapstructure:"path"`
}

type Identity struct {
	Type string `mapstructure:"type"` // local | firebase
}

type Blob struct {
	Type   string    `mapstructure:"type"`   // local | s3 | firebase
	Bucket string    `mapstructure:"bucket"` // Bucket name used in download URLs
	Local  LocalBlob `mapstructure:"local"`
	S3     S3Blob    `mapstructure:"s3"`
}

type LocalBlob struct {
	Path string `mapstructure:"path"`
}

// S3Blob configures an S3-compatible object store.
type S3Blob struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type Broker struct {
	Type string `mapstructure:"type"` // memory | redis
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Firebase struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// Web API key, needed for password sign-in through the identity toolkit.
	APIKey        string `mapstructure:"api_key"`
	StorageBucket string `mapstructure:"storage_bucket"`
}
