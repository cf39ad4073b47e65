package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	binanceREST          = "https://api.binance.com"
	binanceStream        = "wss://stream.binance.com:9443"
	binanceTestnetREST   = "https://testnet.binance.vision"
	binanceTestnetStream = "wss://stream.testnet.binance.vision"
)

// Endpoints returns the REST and stream base URLs for the given network.
func Endpoints(testnet bool) (rest, stream string) {
	if testnet {
		return binanceTestnetREST, binanceTestnetStream
	}
	return binanceREST, binanceStream
}

// LoadDotEnv reads the given .env files into the process environment. Missing
// files are ignored; existing variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// ApplyEnv overlays environment settings: BINANCE_TESTNET selects the network
// and which key pair is read. Endpoints left empty in YAML follow the network.
func (c *Config) ApplyEnv() {
	if raw, ok := os.LookupEnv("BINANCE_TESTNET"); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			c.Exchange.Testnet = v
		}
	}
	c.Exchange.APIKey, c.Exchange.APISecret = Credentials(c.Exchange.Testnet)
	c.Persistence.RedisPassword = os.Getenv("REDIS_PASSWORD")

	rest, stream := Endpoints(c.Exchange.Testnet)
	if c.Exchange.RESTBaseURL == "" {
		c.Exchange.RESTBaseURL = rest
	}
	if c.Exchange.StreamBaseURL == "" {
		c.Exchange.StreamBaseURL = stream
	}
}

// Credentials returns the key pair for the selected network.
func Credentials(testnet bool) (key, secret string) {
	if testnet {
		return os.Getenv("BINANCE_TESTNET_API_KEY"), os.Getenv("BINANCE_TESTNET_API_SECRET")
	}
	return os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET")
}
