package queueconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-topicqueue"
	"github.com/domonda/go-topicqueue/queueconfig"
)

func TestQueueConfigMatch(t *testing.T) {
	tests := []struct {
		pattern   string
		name      string
		topic     string
		wantQueue string
		wantOK    bool
	}{
		{pattern: "a/b/.", name: "q", topic: "a/b/c", wantQueue: "q", wantOK: true},
		{pattern: "a/b/.", name: "q-{0}", topic: "a/b/c", wantQueue: "q-c", wantOK: true},
		{pattern: "a/b/.", name: "q", topic: "a/b/c/d", wantOK: false},
		{pattern: "a/b/.", name: "q", topic: "a/b", wantOK: false},
		{pattern: "a/b/*", name: "q-{0}", topic: "a/b/c", wantQueue: "q-c", wantOK: true},
		{pattern: "a/b/*", name: "q-{0}", topic: "a/b/c/d", wantQueue: "q-c/d", wantOK: true},
		{pattern: "a/b/*", name: "q", topic: "a/b", wantOK: false},
		{pattern: "a/b/*", name: "q", topic: "a/bc/d", wantOK: false},
		{pattern: "a/b", name: "q", topic: "a/b", wantQueue: "q", wantOK: true},
		{pattern: "a/b", name: "q", topic: "a/b/c", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.topic, func(t *testing.T) {
			config := queueconfig.NewQueueConfig(tt.name, tt.pattern)
			queue, ok := config.Match(tt.topic)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantQueue, queue)
		})
	}
}

func TestQueueConfigValidate(t *testing.T) {
	valid := queueconfig.NewQueueConfig("q", "a/*")
	assert.NoError(t, valid.Validate())

	invalid := []queueconfig.QueueConfig{
		queueconfig.NewQueueConfig("", "a/*"),
		queueconfig.NewQueueConfig("q"),
		queueconfig.NewQueueConfig("q", ""),
		{Name: "q", Topics: []string{"a"}, MaxParallel: -1},
		{Name: "q", Topics: []string{"a"}, Retries: -1},
		{Name: "q", Topics: []string{"a"}, RetryDelay: -time.Second},
	}
	for _, config := range invalid {
		assert.Error(t, config.Validate(), "%#v", config)
	}

	_, err := queueconfig.New(queueconfig.NewQueueConfig(""))
	assert.Error(t, err)
}

func TestResolver(t *testing.T) {
	low := queueconfig.NewQueueConfig("low", "mail/*")
	high := queueconfig.NewQueueConfig("high", "mail/send")
	high.Ranking = 10
	high.Type = topicqueue.QueueTypeOrdered

	r, err := queueconfig.New(low, high)
	require.NoError(t, err)

	info := r.QueueInfo("mail/send")
	assert.Equal(t, "high", info.Name)
	assert.Equal(t, topicqueue.QueueTypeOrdered, info.Type)
	assert.Equal(t, 1, info.MaxParallel, "ordered queues process one job at a time")

	assert.Equal(t, "low", r.QueueInfo("mail/bounce").Name)

	info = r.QueueInfo("report/render")
	assert.Equal(t, topicqueue.QueueInfo{
		Name:        queueconfig.MainQueueName,
		Type:        topicqueue.QueueTypeUnordered,
		MaxParallel: queueconfig.DefaultMaxParallel,
		Retries:     queueconfig.DefaultRetries,
		RetryDelay:  queueconfig.DefaultRetryDelay,
	}, info)

	assert.Equal(t, []string{"high", "low"}, []string{r.Configs()[0].Name, r.Configs()[1].Name})

	t.Run("changes", func(t *testing.T) {
		count := r.ChangeCount()

		assert.True(t, r.Remove("high"))
		assert.Greater(t, r.ChangeCount(), count)
		assert.Equal(t, "low", r.QueueInfo("mail/send").Name, "resolved queues are recomputed")

		assert.False(t, r.Remove("high"))

		count = r.ChangeCount()
		require.NoError(t, r.Add(queueconfig.NewQueueConfig("reports", "report/*")))
		assert.Greater(t, r.ChangeCount(), count)
		assert.Equal(t, "reports", r.QueueInfo("report/render").Name)

		main := queueconfig.NewQueueConfig("ignored", "ignored")
		main.Retries = 1
		r.SetMainQueue(main)
		info := r.QueueInfo("other")
		assert.Equal(t, queueconfig.MainQueueName, info.Name)
		assert.Equal(t, 1, info.Retries)
	})
}

const testYAML = `
mainQueue:
  maxParallel: 5
queues:
  - name: mail
    topics: [mail/*]
    retryDelay: 5s
  - name: report-{0}
    topics: [report/.]
    type: ordered
    retries: 2
    ranking: 1
`

func TestParse(t *testing.T) {
	r, err := queueconfig.Parse([]byte(testYAML))
	require.NoError(t, err)

	mail := r.QueueInfo("mail/send")
	assert.Equal(t, "mail", mail.Name)
	assert.Equal(t, 5*time.Second, mail.RetryDelay)
	assert.Equal(t, queueconfig.DefaultRetries, mail.Retries, "defaults for missing values")
	assert.Equal(t, queueconfig.DefaultMaxParallel, mail.MaxParallel)

	report := r.QueueInfo("report/monthly")
	assert.Equal(t, "report-monthly", report.Name)
	assert.Equal(t, topicqueue.QueueTypeOrdered, report.Type)
	assert.Equal(t, 2, report.Retries)

	main := r.QueueInfo("other")
	assert.Equal(t, queueconfig.MainQueueName, main.Name)
	assert.Equal(t, 5, main.MaxParallel)
	assert.Equal(t, queueconfig.DefaultRetries, main.Retries)

	_, err = queueconfig.Parse([]byte("queues:\n  - name: missing-topics\n"))
	assert.Error(t, err)

	_, err = queueconfig.Parse([]byte("queues:\n  - name: q\n    topics: [a]\n    type: random\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "queues.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(testYAML), 0o600))

	r, err := queueconfig.Load(filename)
	require.NoError(t, err)
	assert.Len(t, r.Configs(), 2)

	_, err = queueconfig.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseQueueTypes(t *testing.T) {
	r, err := queueconfig.Parse([]byte(`
queues:
  - name: audit
    topics: [audit/*]
    type: ignore
  - name: tenants
    topics: [tenant/*]
    type: topicRoundRobin
    maxParallel: 4
`))
	require.NoError(t, err)

	audit := r.QueueInfo("audit/login")
	assert.Equal(t, "audit", audit.Name)
	assert.Equal(t, topicqueue.QueueTypeIgnore, audit.Type)

	tenants := r.QueueInfo("tenant/a")
	assert.Equal(t, topicqueue.QueueTypeTopicRoundRobin, tenants.Type)
	assert.Equal(t, 4, tenants.Parallel(), "round robin queues process jobs in parallel")
}
