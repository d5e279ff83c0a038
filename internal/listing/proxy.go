package listing

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Proxy is one egress proxy from the configured pool.
// Supported line formats: "host:port" and "host:port:user:pass".
type Proxy struct {
	Host string
	Port string
	User string
	Pass string
}

// URL renders the proxy as an http URL with optional basic auth.
func (p Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: "http",
		Host:   p.Host + ":" + p.Port,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u
}

// LoadProxies reads the proxy pool file. A missing file yields an
// empty pool, which makes the client go direct.
func LoadProxies(path string) ([]Proxy, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer file.Close()

	var proxies []Proxy
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		switch len(parts) {
		case 2:
			proxies = append(proxies, Proxy{Host: parts[0], Port: parts[1]})
		case 4:
			proxies = append(proxies, Proxy{Host: parts[0], Port: parts[1], User: parts[2], Pass: parts[3]})
		default:
			return nil, fmt.Errorf("invalid proxy line %q", line)
		}
	}
	return proxies, scanner.Err()
}
