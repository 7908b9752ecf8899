package server

import "time"

type WebhookConfig struct {
	Url string `usage:"If set, a POST request that contains player connection notifications will be sent to this HTTP address"`
}

type NgrokConfig struct {
	Token      string `usage:"If set, an ngrok tunnel will be established. It is HIGHLY recommended to pass as an environment variable."`
	RemoteAddr string `usage:"If set, the TCP address to request for this edge"`
}

type FaviconConfig struct {
	File  string `default:"server-icon.png" usage:"Path to the PNG [file] served as server list icon"`
	Watch bool   `usage:"Watch the favicon file for changes"`
}

type Config struct {
	ConfigFile           string        `default:"config.json" usage:"Path to the proxy configuration [file]"`
	ApiBinding           string        `usage:"The [host:port] bound for servicing API requests"`
	CpuProfile           string        `usage:"Enables CPU profiling and writes to given path"`
	ConnectionRateLimit  int           `default:"1" usage:"Max number of connections to allow per second"`
	PollInterval         time.Duration `default:"10ms" usage:"How long a player session waits on one side of the connection before checking the other"`
	MetricsBackend       string        `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig
	ReceiveProxyProtocol bool     `default:"false" usage:"Receive PROXY protocol from front proxies, by default trusts every proxy header that it receives, combine with -trusted-proxies to specify a list of trusted proxies"`
	TrustedProxies       []string `usage:"Comma delimited list of CIDR notation IP blocks to trust when receiving PROXY protocol"`
	Ngrok                NgrokConfig
	Favicon              FaviconConfig

	ClientsToAllow []string `usage:"Zero or more client IP addresses or CIDRs to allow. Takes precedence over deny."`
	ClientsToDeny  []string `usage:"Zero or more client IP addresses or CIDRs to deny. Ignored if any configured to allow"`

	PlayerAllowDeny string `usage:"Path to config for player allowlists and denylists, global and per server id"`

	Webhook WebhookConfig `usage:"Webhook configuration"`

	Debug bool `usage:"Enable debug logs, overriding the config file log level"`
	Trace bool `usage:"Enable trace logs, overriding the config file log level"`
}
