package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-collections/internal/collections"
	appconfig "github.com/wolfman30/dental-collections/internal/config"
	"github.com/wolfman30/dental-collections/internal/flow"
	"github.com/wolfman30/dental-collections/internal/notify"
)

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Timezone:              "America/Sao_Paulo",
		PreDueOffsets:         []int{3, 0},
		DefaultCooldownDays:   10,
		MinDaysOverdue:        60,
		SMSProvider:           "stub",
		WhatsAppProvider:      "stub",
		EmailProvider:         "stub",
		NotifierTimeout:       time.Second,
		NotifierMaxRetries:    1,
		NotifierBackoff:       time.Millisecond,
		NotifierRatePerSecond: 5,
		PolicyCacheTTL:        time.Minute,
	}
}

func TestBuildRedisClient(t *testing.T) {
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{}, nil, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true)
	require.NotNil(t, client)
	require.NoError(t, client.Ping(context.Background()).Err())

	mr.Close()
	assert.Nil(t, BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, nil, true))
}

func TestBuildCalendar(t *testing.T) {
	cal, err := BuildCalendar(testConfig())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0}, cal.PreDueOffsets)
	assert.Equal(t, 10, cal.DefaultCooldownDays)
	assert.Equal(t, 60, cal.DefaultMinDaysOverdue)
	assert.Equal(t, "America/Sao_Paulo", cal.Location.String())

	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus"
	_, err = BuildCalendar(cfg)
	assert.Error(t, err)
}

func TestBuildNotifierRegistryStubs(t *testing.T) {
	reg, err := BuildNotifierRegistry(testConfig(), NotifierDeps{})
	require.NoError(t, err)
	assert.Equal(t, []notify.Channel{notify.ChannelSMS, notify.ChannelWhatsApp, notify.ChannelEmail}, reg.Channels())

	n, err := reg.Get(notify.ChannelEmail)
	require.NoError(t, err)
	assert.NoError(t, n.Send(context.Background(), notify.Message{To: []string{"a@example.com"}, Body: "oi"}))

	_, err = reg.Get(notify.ChannelPhoneCall)
	assert.ErrorIs(t, err, notify.ErrNoNotifier)
}

func TestBuildNotifierRegistryProviders(t *testing.T) {
	cfg := testConfig()
	cfg.SMSProvider = "telnyx"
	cfg.TelnyxAPIKey = "key"
	cfg.TelnyxFromNumber = "+5511999990000"
	cfg.WhatsAppProvider = "debtapp"
	cfg.DebtAppEndpoint = "https://wa.example.com/message/sendText/inst"
	cfg.DebtAppAPIKey = "k"
	cfg.EmailProvider = "brevo"
	cfg.BrevoAPIKey = "b"
	cfg.EmailFromAddress = "cobranca@example.com"
	_, err := BuildNotifierRegistry(cfg, NotifierDeps{})
	require.NoError(t, err)
}

func TestBuildNotifierRegistryRejectsMisconfiguration(t *testing.T) {
	cases := map[string]func(*appconfig.Config){
		"unknown sms":        func(c *appconfig.Config) { c.SMSProvider = "pigeon" },
		"assertiva no token": func(c *appconfig.Config) { c.SMSProvider = "assertiva" },
		"debtapp no key":     func(c *appconfig.Config) { c.WhatsAppProvider = "debtapp" },
		"sendgrid no key":    func(c *appconfig.Config) { c.EmailProvider = "sendgrid" },
		"ses no client":      func(c *appconfig.Config) { c.EmailProvider = "ses" },
		"smtp no host":       func(c *appconfig.Config) { c.EmailProvider = "smtp" },
		"unknown email":      func(c *appconfig.Config) { c.EmailProvider = "fax" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(cfg)
			_, err := BuildNotifierRegistry(cfg, NotifierDeps{})
			assert.Error(t, err)
		})
	}
}

type tableRepo struct {
	calls int
	table []collections.FlowStepPolicy
}

func (r *tableRepo) ListPolicies(context.Context) ([]collections.FlowStepPolicy, error) {
	r.calls++
	if r.table != nil {
		return r.table, nil
	}
	return flow.Default(), nil
}

func (r *tableRepo) UpsertPolicies(_ context.Context, policies []collections.FlowStepPolicy) error {
	r.table = policies
	return nil
}

func TestBuildPolicyRepositoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("steps:\n  - {step_number: 0, channels: [sms], cooldown_days: 7, active: true}\n"), 0o600))
	cfg := testConfig()
	cfg.PolicySource = "file"
	cfg.PolicyFile = path

	repo, err := BuildPolicyRepository(cfg, nil, nil, nil)
	require.NoError(t, err)
	policies, err := repo.ListPolicies(context.Background())
	require.NoError(t, err)
	assert.Len(t, policies, 1)
}

func TestBuildPolicyRepositoryCachesDatabaseSource(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig()
	cfg.PolicySource = "database"
	source := &tableRepo{}

	repo, err := BuildPolicyRepository(cfg, source, client, nil)
	require.NoError(t, err)
	_, isCached := repo.(*flow.CachedRepository)
	assert.True(t, isCached)

	for i := 0; i < 3; i++ {
		_, err := repo.ListPolicies(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.calls)

	_, err = BuildPolicyRepository(cfg, nil, nil, nil)
	assert.Error(t, err)
	cfg.PolicySource = "etcd"
	_, err = BuildPolicyRepository(cfg, source, nil, nil)
	assert.Error(t, err)
}

func TestSeedPoliciesInvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig()
	cfg.PolicySource = "database"
	source := &tableRepo{}
	ctx := context.Background()

	repo, err := BuildPolicyRepository(cfg, source, client, nil)
	require.NoError(t, err)
	before, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists(flow.CacheKey))

	seeded := []collections.FlowStepPolicy{
		{StepNumber: 0, Channels: []notify.Channel{notify.ChannelEmail}, CooldownDays: 3, Active: true},
	}
	require.NoError(t, SeedPolicies(ctx, source, client, seeded, nil))
	assert.False(t, mr.Exists(flow.CacheKey))

	after, err := repo.ListPolicies(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, len(before), len(after))
	require.Len(t, after, 1)
	assert.Equal(t, []notify.Channel{notify.ChannelEmail}, after[0].Channels)
	assert.Equal(t, 2, source.calls)
}

func TestSeedPoliciesWithoutRedis(t *testing.T) {
	source := &tableRepo{}
	require.NoError(t, SeedPolicies(context.Background(), source, nil, flow.Default(), nil))
	assert.Len(t, source.table, len(flow.Default()))
}
