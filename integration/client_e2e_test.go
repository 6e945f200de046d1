//go:build integration

package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/suite"

	"github.com/rocketbitz/fidomain/client"
	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/provider/sockets"
)

// ClientSuite drives a sockets provider configured from YAML with a local DNS
// server as its resolver.
type ClientSuite struct {
	suite.Suite
	server   *dns.Server
	provider string
}

func (s *ClientSuite) SetupSuite() {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	s.Require().NoError(err)

	records := map[string]string{
		"rack1.": "10.20.0.1",
		"rack2.": "10.20.0.2",
		"rack3.": "10.20.0.3",
	}
	mux := dns.NewServeMux()
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		q := r.Question[0]
		ip, ok := records[q.Name]
		if !ok {
			m.Rcode = dns.RcodeNameError
		} else if q.Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(ip),
			})
		}
		_ = w.WriteMsg(m)
	})

	started := make(chan struct{})
	s.server = &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = s.server.ActivateAndServe() }()
	<-started

	s.provider = "sockets-integration"
	cfgPath := filepath.Join(s.T().TempDir(), "sockets.yaml")
	yaml := "name: " + s.provider + "\n" +
		"domain: int0\n" +
		"av:\n  type: table\n  max_entries: 64\n" +
		"resolver:\n  kind: dns\n  server: " + pc.LocalAddr().String() + "\n  timeout: 500ms\n  symmetric_policy: templated\n"
	s.Require().NoError(os.WriteFile(cfgPath, []byte(yaml), 0o600))

	cfg, err := sockets.LoadConfig(cfgPath)
	s.Require().NoError(err)
	_, err = sockets.Register(cfg)
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownSuite() {
	fi.Unregister(s.provider)
	if s.server != nil {
		_ = s.server.Shutdown()
	}
}

func (s *ClientSuite) dial() *client.Client {
	cli, err := client.Dial(client.Config{Provider: s.provider, Timeout: 2 * time.Second})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = cli.Close() })
	return cli
}

func (s *ClientSuite) TestResolveThroughDNS() {
	cli := s.dial()
	s.Equal("int0", cli.Domain().Info().Domain)

	res, err := cli.RegisterPeerGroup(context.Background(), "rack1", 3, "7000", 2)
	s.Require().NoError(err)
	s.Require().Equal(6, res.Inserted)

	last, err := cli.PeerAddress(res.Addresses[5])
	s.Require().NoError(err)
	s.Equal("fi_sockaddr_in://10.20.0.3:7001", last)

	_, err = cli.RegisterPeerService(context.Background(), "rack9", "7000")
	s.ErrorIs(err, fi.ErrAddressResolution)
}

func (s *ClientSuite) TestConcurrentClientsShareNothing() {
	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli, err := client.Dial(client.Config{Provider: s.provider})
			if err != nil {
				errs <- err
				return
			}
			defer cli.Close()
			mr, err := cli.Acquire()
			if err != nil {
				errs <- err
				return
			}
			cli.Release(mr)
			if _, err := cli.RegisterPeerService(context.Background(), "rack2", "9000"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
}

func (s *ClientSuite) TestKeyExchangeAcrossClients() {
	owner := s.dial()
	peer := s.dial()

	mr, err := owner.RegisterBuffer(make([]byte, 8192), fi.MRAccessLocal|fi.MRAccessRemoteWrite)
	s.Require().NoError(err)
	defer mr.Close()

	base, raw, err := owner.ExportKey(mr)
	s.Require().NoError(err)
	key, err := peer.ImportKey(base, raw)
	s.Require().NoError(err)

	info, err := peer.Domain().ResolveKey(key)
	s.Require().NoError(err)
	s.Equal(mr.Key(), info.RemoteKey)
	s.Require().NoError(peer.ReleaseKey(key))
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
