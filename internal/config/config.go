package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	Database  Database  `envPrefix:"DB_"`
	Auth      Auth      `envPrefix:"AUTH_"`
	PhonePe   PhonePe   `envPrefix:"PHONEPE_"`
	Checkout  Checkout  `envPrefix:"CHECKOUT_"`
	Worker    Worker    `envPrefix:"WORKER_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

func (e Environment) IsDevelopment() bool {
	return e.Name == "development"
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"45s"`
}

type Database struct {
	Driver       string `env:"DRIVER" envDefault:"sqlite"` // sqlite, mysql
	URL          string `env:"URL" envDefault:"storefront.db"`
	MaxIdleConns int    `env:"MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns int    `env:"MAX_OPEN_CONNS" envDefault:"50"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-me"`
	Issuer    string `env:"ISSUER" envDefault:"storefront"`
}

// PhonePe holds the merchant credentials and the gateway-specific constants.
type PhonePe struct {
	BaseApiURL  string        `env:"BASE_API_URL" envDefault:"https://api-preprod.phonepe.com/apis/pg-sandbox"`
	MerchantID  string        `env:"MERCHANT_ID"`
	SaltKey     string        `env:"SALT_KEY"`
	SaltIndex   int           `env:"SALT_INDEX" envDefault:"1"`
	SuccessCode string        `env:"SUCCESS_CODE" envDefault:"PAYMENT_SUCCESS"`
	MinAmount   int64         `env:"MIN_AMOUNT" envDefault:"100"` // minor units
	RedirectURL string        `env:"REDIRECT_URL" envDefault:"http://localhost:5173/payment/status"`
	CallbackURL string        `env:"CALLBACK_URL" envDefault:"http://localhost:8080/api/payments/callback"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s"`
	PaymentTTL  time.Duration `env:"PAYMENT_TTL" envDefault:"20m"`
}

func (p PhonePe) Mode() string {
	if p.BaseApiURL == ProductionBaseURL {
		return "PRODUCTION"
	}
	return "UAT"
}

const ProductionBaseURL = "https://api.phonepe.com/apis/hermes"

type Checkout struct {
	Currency          string `env:"CURRENCY" envDefault:"INR"`
	ExpressShipping   int64  `env:"EXPRESS_SHIPPING" envDefault:"19900"` // minor units
	StandardShipping  int64  `env:"STANDARD_SHIPPING" envDefault:"0"`
	OrderNumberPrefix string `env:"ORDER_NUMBER_PREFIX" envDefault:"ORD"`
}

type Worker struct {
	Enabled             bool          `env:"ENABLED" envDefault:"true"`
	Interval            time.Duration `env:"INTERVAL" envDefault:"30s"`
	StaleAfter          time.Duration `env:"STALE_AFTER" envDefault:"2m"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"20"`
	NotificationRetries int           `env:"NOTIFICATION_RETRIES" envDefault:"5"`
}

type RateLimit struct {
	Requests  int           `env:"REQUESTS" envDefault:"10"`
	Window    time.Duration `env:"WINDOW" envDefault:"15m"`
	ExpiresIn time.Duration `env:"EXPIRES_IN" envDefault:"30m"`
}
