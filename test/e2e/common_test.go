package e2e_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/finargo/corpusbank/pkg/client"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	// testTimeout bounds every Eventually block; ingestion includes
	// remote embedding calls and can take a while on first run.
	testTimeout     = 1 * time.Minute
	pollingInterval = 500 * time.Millisecond
)

const annualReportText = `Total revenue for the fiscal year grew 14 percent to 8.3 billion dollars,
driven by the asset management segment. Operating margin expanded to 31 percent
as the cost reduction program completed ahead of schedule. The board approved a
10 percent increase in the quarterly dividend.`

// skipUnlessE2E gates specs behind a running corpusbank deployment.
func skipUnlessE2E() {
	if os.Getenv("E2E") != "true" {
		Skip("E2E is not set to true, skipping end-to-end tests")
	}
}

// newServerClient waits until the server answers health checks.
func newServerClient(endpoint string) *client.Client {
	c := client.NewClient(endpoint)
	Eventually(func() error {
		return c.Health(context.Background())
	}, testTimeout, pollingInterval).Should(Succeed())
	return c
}

// uniqueCollection returns a collection name that cannot collide with
// earlier runs against the same server.
func uniqueCollection(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano())
}

// writeTestDocument drops a text file into a temp dir cleaned up after
// the test.
func writeTestDocument(name, content string) string {
	dir, err := os.MkdirTemp("", "e2e-docs-*")
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, name)
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}
