// +build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// RedisIntegrationTestSuite drives RedisStore against a real Redis instance,
// grounded in the teacher's container-per-suite integration pattern.
type RedisIntegrationTestSuite struct {
	suite.Suite
	container testcontainers.Container
	store     *RedisStore
	ctx       context.Context
}

func (suite *RedisIntegrationTestSuite) SetupSuite() {
	suite.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}

	container, err := testcontainers.GenericContainer(suite.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	suite.Require().NoError(err)
	suite.container = container

	host, err := container.Host(suite.ctx)
	suite.Require().NoError(err)
	port, err := container.MappedPort(suite.ctx, "6379")
	suite.Require().NoError(err)

	s, err := NewRedisStore(&RedisConfig{
		URL:         "redis://" + host + ":" + port.Port() + "/0",
		DialTimeout: 5 * time.Second,
		ReadTimeout: 5 * time.Second,
	}, logger.New("test"))
	suite.Require().NoError(err)
	suite.store = s
}

func (suite *RedisIntegrationTestSuite) TearDownSuite() {
	if suite.store != nil {
		suite.store.Close()
	}
	if suite.container != nil {
		suite.container.Terminate(suite.ctx)
	}
}

func (suite *RedisIntegrationTestSuite) TestPutGetListDeleteRule() {
	id := "rule-itest-1"
	data := []byte(`{"id":"rule-itest-1","pathPattern":"/api/*","allowedRequests":5,"windowSeconds":60}`)

	suite.Require().NoError(suite.store.PutRule(suite.ctx, id, data))

	got, err := suite.store.GetRule(suite.ctx, id)
	suite.Require().NoError(err)
	suite.Equal(data, []byte(got))

	active, err := suite.store.ListActiveRules(suite.ctx)
	suite.Require().NoError(err)
	suite.Contains(toStrings(active), string(data))

	suite.Require().NoError(suite.store.DeleteRule(suite.ctx, id))

	got, err = suite.store.GetRule(suite.ctx, id)
	suite.Require().NoError(err)
	suite.Nil(got)
}

func (suite *RedisIntegrationTestSuite) TestConfigRoundTrip() {
	suite.Require().NoError(suite.store.SetConfig(suite.ctx, "maintenance_mode", "false"))

	val, ok, err := suite.store.GetConfig(suite.ctx, "maintenance_mode")
	suite.Require().NoError(err)
	suite.True(ok)
	suite.Equal("false", val)

	all, err := suite.store.ListConfig(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal("false", all["maintenance_mode"])
}

func (suite *RedisIntegrationTestSuite) TestAdmitEnforcesFixedWindow() {
	key := "admit-itest:identifier-1"

	for i := 1; i <= 3; i++ {
		count, within, err := suite.store.Admit(suite.ctx, key, 3, 60)
		suite.Require().NoError(err)
		suite.True(within, "request %d should be within quota", i)
		suite.Equal(i, count)
	}

	_, within, err := suite.store.Admit(suite.ctx, key, 3, 60)
	suite.Require().NoError(err)
	suite.False(within, "4th request should exceed quota")
}

func (suite *RedisIntegrationTestSuite) TestPingSucceedsAgainstLiveContainer() {
	suite.Require().NoError(suite.store.Ping(suite.ctx))
}

func toStrings(records []RuleRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r)
	}
	return out
}

func TestRedisIntegrationSuite(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration tests. Set INTEGRATION_TESTS=1 to run.")
	}

	suite.Run(t, new(RedisIntegrationTestSuite))
}
