package models

type Configuration struct {
	App      AppConfiguration      `mapstructure:"app"      validate:"required"`
	Database DatabaseConfiguration `mapstructure:"database" validate:"required"`
	Cache    CacheConfiguration    `mapstructure:"cache"    validate:"required"`
	Notifier NotifierConfiguration `mapstructure:"notifier" validate:"required"`
	Activity ActivityConfiguration `mapstructure:"activity" validate:"required"`
	Profile  string                `mapstructure:"profile"`
}

type AppConfiguration struct {
	Profile            string   `mapstructure:"profile"              validate:"oneof=default api worker"`
	AdminEmail         string   `mapstructure:"admin_email"          validate:"required,email"`
	AdminPassword      string   `mapstructure:"admin_password"       validate:"required"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"      validate:"required"`
	JWTSecret          string   `mapstructure:"jwt_secret"           validate:"required"`
	MFAEnabled         bool     `mapstructure:"mfa_enabled"`
	MFAKeyMaterial     string   `mapstructure:"mfa_key_material"     validate:"required,min=16"`
	MFAHashSalt        string   `mapstructure:"mfa_hash_salt"        validate:"required,min=16"`
	AccessTokenExpiry  int      `mapstructure:"access_token_expiry"  validate:"gte=1,lte=1440"`
	RefreshTokenExpiry int      `mapstructure:"refresh_token_expiry" validate:"gte=1,lte=720"`
	MFATokenExpiry     int      `mapstructure:"mfa_token_expiry"     validate:"gte=1,lte=30"`
	LogLevel           string   `mapstructure:"log_level"            validate:"oneof=debug info warn error fatal panic"`
	Port               int      `mapstructure:"port"                 validate:"gte=80,lte=65535"`
	TrustedProxies     []string `mapstructure:"trusted_proxies"      validate:"required"`
	WebURL             string   `mapstructure:"web_url"              validate:"required,url"`
}

// AuthConfig is the slice of configuration the auth services need; derived
// from AppConfiguration so services do not depend on the whole tree.
type AuthConfig struct {
	JWTSecret          string
	MFAEnabled         bool
	MFAKeyMaterial     string
	MFAHashSalt        string
	AccessTokenExpiry  int
	RefreshTokenExpiry int
	MFATokenExpiry     int
	WebURL             string
}

func (a AppConfiguration) GetAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:          a.JWTSecret,
		MFAEnabled:         a.MFAEnabled,
		MFAKeyMaterial:     a.MFAKeyMaterial,
		MFAHashSalt:        a.MFAHashSalt,
		AccessTokenExpiry:  a.AccessTokenExpiry,
		RefreshTokenExpiry: a.RefreshTokenExpiry,
		MFATokenExpiry:     a.MFATokenExpiry,
		WebURL:             a.WebURL,
	}
}

type DatabaseConfiguration struct {
	Host     string `mapstructure:"host"     validate:"required"`
	Port     int32  `mapstructure:"port"     validate:"gte=80,lte=65535"`
	User     string `mapstructure:"user"     validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
	Name     string `mapstructure:"name"     validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

type CacheConfiguration struct {
	Type   string                    `mapstructure:"type"   validate:"required,oneof=redis valkey"`
	Redis  *RedisCacheConfiguration  `mapstructure:"redis"  validate:"required_if=Type redis"`
	Valkey *ValkeyCacheConfiguration `mapstructure:"valkey" validate:"required_if=Type valkey"`
}

type RedisCacheConfiguration struct {
	Hosts         []string `mapstructure:"hosts"`
	Password      string   `mapstructure:"password"`
	TLSEnabled    bool     `mapstructure:"tls_enabled"`
	TLSServerName string   `mapstructure:"tls_server_name"`
}

type ValkeyCacheConfiguration struct {
	Hosts         []string `mapstructure:"hosts"`
	Password      string   `mapstructure:"password"`
	TLSEnabled    bool     `mapstructure:"tls_enabled"`
	TLSServerName string   `mapstructure:"tls_server_name"`
}

type NotifierConfiguration struct {
	Type       string                            `mapstructure:"type"       validate:"required,oneof=smtp filesystem"`
	SMTP       *SMTPNotifierConfiguration        `mapstructure:"smtp"       validate:"required_if=Type smtp"`
	Filesystem *FilesystemNotifierConfiguration  `mapstructure:"filesystem" validate:"required_if=Type filesystem"`
}

type SMTPNotifierConfiguration struct {
	Host          string `mapstructure:"host"            validate:"required"`
	Port          int    `mapstructure:"port"            validate:"gte=1,lte=65535"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	From          string `mapstructure:"from"            validate:"required,email"`
	EnableTLS     bool   `mapstructure:"enable_tls"`
	SkipVerifyTLS bool   `mapstructure:"skip_verify_tls"`
}

type FilesystemNotifierConfiguration struct {
	Directory string `mapstructure:"directory" validate:"required"`
}

type ActivityConfiguration struct {
	Type       string                           `mapstructure:"type"       validate:"required,oneof=filesystem"`
	Filesystem *FilesystemActivityConfiguration `mapstructure:"filesystem" validate:"required_if=Type filesystem"`
}

type FilesystemActivityConfiguration struct {
	Directory string `mapstructure:"directory" validate:"required"`
}
