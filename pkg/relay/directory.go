package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/kv"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

var log = logging.Logger("dhtnode/relay")

const (
	// KeyPrefix namespaces advertisement keys; one key per wallet
	KeyPrefix = "relay-node:"

	// IndexKey holds the wallets that have published, with their latest timestamp
	IndexKey = "relay-node-index"

	DefaultIP   = "127.0.0.1"
	DefaultPort = 51820 // WireGuard
	DefaultTTL  = 30 * time.Minute
)

// Advertisement announces a VPN relay endpoint owned by a wallet
type Advertisement struct {
	WalletAddress string `json:"walletAddress"`
	PublicKey     string `json:"publicKey"`
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	Timestamp     int64  `json:"timestamp"` // ms since epoch
}

// PublishRequest carries the caller-supplied part of an advertisement.
// IP and Port are optional.
type PublishRequest struct {
	WalletAddress string `json:"walletAddress"`
	PublicKey     string `json:"publicKey"`
	IP            string `json:"ip,omitempty"`
	Port          int    `json:"port,omitempty"`
}

// Config holds directory defaults
type Config struct {
	// TTL excludes advertisements older than this from List. Zero keeps everything.
	TTL         time.Duration
	DefaultIP   string
	DefaultPort int
}

// DefaultConfig returns the default directory settings
func DefaultConfig() Config {
	return Config{
		TTL:         DefaultTTL,
		DefaultIP:   DefaultIP,
		DefaultPort: DefaultPort,
	}
}

// index maps wallet address to the timestamp of its latest advertisement
type index map[string]int64

// Directory publishes and enumerates relay advertisements
type Directory struct {
	store *kv.Store
	cfg   Config
	now   func() time.Time

	// mu serializes the index read-modify-write
	mu sync.Mutex
}

// NewDirectory creates a directory on top of store
func NewDirectory(store *kv.Store, cfg Config) *Directory {
	if cfg.DefaultIP == "" {
		cfg.DefaultIP = DefaultIP
	}
	if cfg.DefaultPort == 0 {
		cfg.DefaultPort = DefaultPort
	}
	return &Directory{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Key returns the storage key of wallet's advertisement
func Key(wallet string) string {
	return KeyPrefix + wallet
}

// Reserved reports whether key belongs to the directory. Reserved keys are
// only written through Publish.
func Reserved(key string) bool {
	return key == IndexKey || strings.HasPrefix(key, KeyPrefix)
}

// Publish writes the advertisement for req.WalletAddress, replacing any
// earlier one, and records the wallet in the index.
func (d *Directory) Publish(ctx context.Context, req PublishRequest) (Advertisement, error) {
	if req.WalletAddress == "" || req.PublicKey == "" {
		return Advertisement{}, fmt.Errorf("%w: walletAddress and publicKey are required", session.ErrInvalidArgument)
	}

	ad := Advertisement{
		WalletAddress: req.WalletAddress,
		PublicKey:     req.PublicKey,
		IP:            req.IP,
		Port:          req.Port,
	}
	if ad.IP == "" {
		ad.IP = d.cfg.DefaultIP
	} else if net.ParseIP(ad.IP) == nil {
		return Advertisement{}, fmt.Errorf("%w: invalid ip %q", session.ErrInvalidArgument, ad.IP)
	}
	if ad.Port == 0 {
		ad.Port = d.cfg.DefaultPort
	} else if ad.Port < 0 || ad.Port > 65535 {
		return Advertisement{}, fmt.Errorf("%w: invalid port %d", session.ErrInvalidArgument, ad.Port)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	ad.Timestamp = now.UnixMilli()

	// The index is written first: an index entry without an advertisement is
	// skipped by List, an advertisement without an index entry is invisible.
	idx, err := d.loadIndex(ctx)
	if err != nil {
		return Advertisement{}, err
	}
	idx[ad.WalletAddress] = ad.Timestamp
	d.prune(idx, now)

	if err := d.store.Put(ctx, IndexKey, idx); err != nil {
		return Advertisement{}, err
	}
	if err := d.store.Put(ctx, Key(ad.WalletAddress), ad); err != nil {
		return Advertisement{}, err
	}

	log.Infow("relay advertisement published", "wallet", ad.WalletAddress, "ip", ad.IP, "port", ad.Port)
	return ad, nil
}

// List returns the fresh advertisements, newest first
func (d *Directory) List(ctx context.Context) ([]Advertisement, error) {
	idx, err := d.loadIndex(ctx)
	if err != nil {
		return nil, err
	}

	now := d.now()
	ads := make([]Advertisement, 0, len(idx))
	for wallet, ts := range idx {
		if d.stale(ts, now) {
			continue
		}

		var ad Advertisement
		err := d.store.Get(ctx, Key(wallet), &ad)
		if errors.Is(err, session.ErrNotFound) {
			continue
		}
		if err != nil {
			if errors.Is(err, session.ErrNodeNotActive) {
				return nil, err
			}
			log.Warnf("skipping advertisement of %s: %v", wallet, err)
			continue
		}
		if d.stale(ad.Timestamp, now) {
			continue
		}
		ads = append(ads, ad)
	}

	sort.Slice(ads, func(i, j int) bool {
		if ads[i].Timestamp != ads[j].Timestamp {
			return ads[i].Timestamp > ads[j].Timestamp
		}
		return ads[i].WalletAddress < ads[j].WalletAddress
	})
	return ads, nil
}

// Lookup returns wallet's advertisement if it exists and is fresh
func (d *Directory) Lookup(ctx context.Context, wallet string) (Advertisement, error) {
	if wallet == "" {
		return Advertisement{}, fmt.Errorf("%w: wallet address is required", session.ErrInvalidArgument)
	}

	var ad Advertisement
	if err := d.store.Get(ctx, Key(wallet), &ad); err != nil {
		return Advertisement{}, err
	}
	if d.stale(ad.Timestamp, d.now()) {
		return Advertisement{}, fmt.Errorf("%w: advertisement of %s expired", session.ErrNotFound, wallet)
	}
	return ad, nil
}

func (d *Directory) loadIndex(ctx context.Context) (index, error) {
	idx := make(index)
	err := d.store.Get(ctx, IndexKey, &idx)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return make(index), nil
	case errors.Is(err, session.ErrEncoding):
		log.Warnf("relay index unreadable, rebuilding: %v", err)
		return make(index), nil
	case err != nil:
		return nil, err
	}
	if idx == nil {
		idx = make(index)
	}
	return idx, nil
}

// prune drops expired wallets from the index
func (d *Directory) prune(idx index, now time.Time) {
	for wallet, ts := range idx {
		if d.stale(ts, now) {
			delete(idx, wallet)
		}
	}
}

func (d *Directory) stale(ts int64, now time.Time) bool {
	if d.cfg.TTL <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(ts)) > d.cfg.TTL
}
