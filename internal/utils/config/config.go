package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dhblabs/settlement-backend/internal/types/environments"
)

type AppConfig struct {
	Environment environments.Environment
	ApiServer   ApiServerConfig
	Postgres    DBConnection
	Gateway     GatewayConfig
	Oracle      OracleConfig
	Chains      []ChainConfig
	Settlement  SettlementConfig
}

type ApiServerConfig struct {
	Port           string
	AllowedOrigins string
}

type DBConnection struct {
	Host string
	Port string
	User string
	Name string
	Pass string

	SSLMode string
}

type GatewayConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type OracleConfig struct {
	QuoteAPIURL  string
	FiatCurrency string
}

// ChainConfig holds everything needed to execute token transfers on one chain.
type ChainConfig struct {
	ChainID          int64
	RPCEndpoint      string
	TokenSymbol      string
	TokenContract    string
	SignerPrivateKey string
}

type SettlementConfig struct {
	SessionTTLMinutes     int
	PaymentTimeoutMinutes int
	MaxTransferRetries    int
	TransferRetrySeconds  int
	TransferStuckMinutes  int
	VerifyWorkers         int
}

func New() *AppConfig {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// loads .env file for the current environment;
	// does not override env variables that already exist
	godotenv.Load(".env." + env)

	return &AppConfig{
		Environment: environments.Environment(env),
		ApiServer: ApiServerConfig{
			Port:           envVarOrDefault("API_PORT", "8080"),
			AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		},
		Postgres: DBConnection{
			Host:    os.Getenv("DB_HOST"),
			Port:    os.Getenv("DB_PORT"),
			User:    os.Getenv("DB_USER"),
			Name:    os.Getenv("DB_NAME"),
			Pass:    os.Getenv("DB_PASS"),
			SSLMode: os.Getenv("DB_SSL_MODE"),
		},
		Gateway: GatewayConfig{
			BaseURL:       os.Getenv("GATEWAY_BASE_URL"),
			APIKey:        os.Getenv("GATEWAY_API_KEY"),
			WebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),
			SuccessURL:    os.Getenv("GATEWAY_SUCCESS_URL"),
			CancelURL:     os.Getenv("GATEWAY_CANCEL_URL"),
		},
		Oracle: OracleConfig{
			QuoteAPIURL:  os.Getenv("ORACLE_QUOTE_API_URL"),
			FiatCurrency: envVarOrDefault("ORACLE_FIAT_CURRENCY", "USD"),
		},
		Chains: parseChains(os.Getenv("CHAINS")),
		Settlement: SettlementConfig{
			SessionTTLMinutes:     envVarAtoiOrDefault("SETTLEMENT_SESSION_TTL_MINUTES", 30),
			PaymentTimeoutMinutes: envVarAtoiOrDefault("SETTLEMENT_PAYMENT_TIMEOUT_MINUTES", 20),
			MaxTransferRetries:    envVarAtoiOrDefault("SETTLEMENT_MAX_TRANSFER_RETRIES", 3),
			TransferRetrySeconds:  envVarAtoiOrDefault("SETTLEMENT_TRANSFER_RETRY_SECONDS", 60),
			TransferStuckMinutes:  envVarAtoiOrDefault("SETTLEMENT_TRANSFER_STUCK_MINUTES", 10),
			VerifyWorkers:         envVarAtoiOrDefault("SETTLEMENT_VERIFY_WORKERS", 100),
		},
	}
}

// parseChains parses CHAINS entries of the form
// "chainId|rpcEndpoint|tokenSymbol|tokenContract|signerKey", separated by ';'.
func parseChains(raw string) []ChainConfig {
	if raw == "" {
		return nil
	}

	var chains []ChainConfig
	for _, entry := range strings.Split(raw, ";") {
		parts := strings.Split(strings.TrimSpace(entry), "|")
		if len(parts) != 5 {
			continue
		}
		chainID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		chains = append(chains, ChainConfig{
			ChainID:          chainID,
			RPCEndpoint:      parts[1],
			TokenSymbol:      parts[2],
			TokenContract:    parts[3],
			SignerPrivateKey: parts[4],
		})
	}
	return chains
}

func envVarOrDefault(envName, fallback string) string {
	value := os.Getenv(envName)
	if value == "" {
		return fallback
	}
	return value
}

func envVarAtoiOrDefault(envName string, fallback int) int {
	valueStr := os.Getenv(envName)
	if valueStr == "" {
		return fallback
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}
