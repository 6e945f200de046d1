//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ExampleSuite struct {
	suite.Suite
	repoRoot string
}

func (s *ExampleSuite) SetupSuite() {
	if os.Getenv("FIDOMAIN_TEST_EXAMPLES") == "" {
		s.T().Skip("set FIDOMAIN_TEST_EXAMPLES=1 to run example integration tests")
	}
	root, err := detectRepoRoot()
	require.NoError(s.T(), err, "locate repository root")
	s.repoRoot = root
}

func (s *ExampleSuite) TestDomainBasic() {
	out := s.runExample("examples/domain_basic")
	s.Contains(out, "fi_sockaddr_in://127.0.0.1:8080")
	s.Contains(out, "registered 4096 bytes")
}

func (s *ExampleSuite) TestAVSymmetric() {
	out := s.runExample("examples/av_symmetric")
	s.Contains(out, "fi_sockaddr_in://192.168.11.0:9000")
	s.Contains(out, "inserted 6 peers")
}

func (s *ExampleSuite) TestKeyExchange() {
	out := s.runExample("examples/key_exchange")
	s.Contains(out, "wrong auth key rejected")
}

func (s *ExampleSuite) runExample(relPath string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./"+relPath)
	cmd.Env = os.Environ()
	cmd.Dir = s.repoRoot

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		s.FailNowf("example timeout", "example %s timed out:\n%s", relPath, string(output))
	}
	require.NoErrorf(s.T(), err, "example %s failed:\n%s", relPath, string(output))
	return string(output)
}

func detectRepoRoot() (string, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root, nil
		}
		next := filepath.Dir(root)
		if next == root {
			return "", fmt.Errorf("could not locate repository root containing go.mod")
		}
		root = next
	}
}

func TestExamples(t *testing.T) {
	suite.Run(t, new(ExampleSuite))
}
