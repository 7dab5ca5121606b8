package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/casinoscope/casinoscopecom/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"github.com/ipinfo/go/v2/ipinfo"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Info is the slice of ip geo data we actually keep, it goes into
// security event metadata and the whereami endpoint
type Info struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Location string `json:"location"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// used for development
var devInfo = Info{
	IP:       "127.0.0.1",
	City:     "Berlin",
	Country:  "DE",
	Timezone: "Europe/Berlin",
}

type ipInfoClient interface {
	GetIPInfo(ip net.IP) (*ipinfo.Core, error)
}

type Api struct {
	mu          sync.Mutex
	client      ipInfoClient
	redisClient *redis.Client
}

// NewIPInfoClient makes the real ipinfo.io client, caching is done in
// redis on our side rather than with the SDK's in-process cache
func NewIPInfoClient(httpClient *http.Client, accessToken string) *ipinfo.Client {
	return ipinfo.NewClient(httpClient, nil, accessToken)
}

func NewApi(client ipInfoClient, redisClient *redis.Client) *Api {
	return &Api{
		client:      client,
		redisClient: redisClient,
	}
}

// GetIPGeoInfo resolves the geo data for the given ip, from the redis
// cache when possible. The ipinfo free plan has a monthly lookup cap and
// concurrent security events for the same client would burn through it,
// hence the mutex around the lookup.
func (gi *Api) GetIPGeoInfo(ctx context.Context, userIp string) (*Info, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "geoIp.getIpGeoInfo")
	defer span.End()
	span.SetAttributes(attribute.String("user.ip", userIp))

	if userIp == "localhost" || userIp == "127.0.0.1" {
		log.Debugf("ip geo info: returning development localhost / Berlin")
		return &devInfo, nil
	}

	parsedIp := net.ParseIP(userIp)
	if parsedIp == nil {
		return nil, fmt.Errorf("invalid ip address: %s", userIp)
	}

	gi.mu.Lock()
	defer gi.mu.Unlock()

	userIpKey := fmt.Sprintf("ip-info::%s", userIp)
	cmd := gi.redisClient.Get(ctx, userIpKey)
	if cachedBytes := cmd.Val(); cachedBytes != "" {
		span.SetAttributes(attribute.Bool("user.ip.from-cache", true))
		info := &Info{}
		if err := json.Unmarshal([]byte(cachedBytes), info); err == nil {
			return info, nil
		} else {
			log.Errorf("failed to unmarshal cached ip info for %s: %s", userIp, err)
			// continue, and ask the ipinfo api instead
		}
	}
	span.SetAttributes(attribute.Bool("user.ip.from-cache", false))

	core, err := gi.client.GetIPInfo(parsedIp)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("get ip info: %s", err))
		return nil, fmt.Errorf("get ip info for %s: %w", userIp, err)
	}
	if core.Bogon {
		return nil, fmt.Errorf("bogon ip address: %s", userIp)
	}

	info := &Info{
		IP:       userIp,
		City:     core.City,
		Region:   core.Region,
		Country:  core.Country,
		Location: core.Location,
		Org:      core.Org,
		Timezone: core.Timezone,
	}

	infoBytes, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal ip info: %w", err)
	}
	if err := gi.redisClient.Set(ctx, userIpKey, infoBytes, 0).Err(); err != nil {
		log.Errorf("failed to cache ip info in redis for %s: %s", userIp, err)
	}

	return info, nil
}
