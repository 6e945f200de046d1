package main

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rocketbitz/fidomain/client"
	"github.com/rocketbitz/fidomain/fi"
	"github.com/rocketbitz/fidomain/internal/sockaddr"
)

func newProvidersCommand(opts *rootOptions) *cobra.Command {
	var endpoint string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and their descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.provider(); err != nil {
				return err
			}
			var discoverOpts []fi.DiscoverOption
			if endpoint != "" {
				ep, err := fi.ParseEndpointType(endpoint)
				if err != nil {
					return err
				}
				discoverOpts = append(discoverOpts, fi.WithEndpointType(ep))
			}
			infos, err := fi.Discover(discoverOpts...)
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, info := range infos {
				if !verbose {
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", info.Provider, info.Fabric, info.Domain, info.Endpoint)
					continue
				}
				fmt.Fprintln(out, fi.FormatInfo(info))
				fmt.Fprintf(out, "  caps: %s\n", strings.Join(fi.CapNames(info.Caps), ","))
				fmt.Fprintf(out, "  mr_mode: %s\n", strings.Join(fi.MRModeNames(fi.MRModeFlag(info.MRMode)), ","))
			}
			opts.logger.Debugw("providers listed", "count", len(infos), "registered", fi.Providers())
			return nil
		},
	}
	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "Only list descriptors for this endpoint type (msg, rdm, dgram)")
	cmd.Flags().BoolVarP(&verbose, "long", "l", false, "Print full descriptor details")
	return cmd
}

func newStrAddrCommand() *cobra.Command {
	var showRaw bool
	cmd := &cobra.Command{
		Use:   "straddr <ip:port>...",
		Short: "Render socket addresses the way the sockets provider prints them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, arg := range args {
				ap, err := netip.ParseAddrPort(arg)
				if err != nil {
					return fmt.Errorf("parse %q: %w", arg, err)
				}
				raw := sockaddr.Encode(ap)
				if showRaw {
					fmt.Fprintf(out, "%s\t%x\n", sockaddr.Format(raw), raw)
					continue
				}
				fmt.Fprintln(out, sockaddr.Format(raw))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showRaw, "raw", false, "Also print the raw sockaddr bytes in hex")
	return cmd
}

func newRxAddrCommand() *cobra.Command {
	var bits int
	cmd := &cobra.Command{
		Use:   "rxaddr <fi_addr> <rx_index>",
		Short: "Pack a receive context index into a fabric address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("parse fi_addr %q: %w", args[0], err)
			}
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parse rx index %q: %w", args[1], err)
			}
			packed, err := fi.RxAddrChecked(fi.Address(addr), idx, bits)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%#x\n", uint64(packed))
			return nil
		},
	}
	cmd.Flags().IntVarP(&bits, "rx-ctx-bits", "b", 8, "Number of high bits reserved for the receive context")
	return cmd
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	var nodes, services int
	var timeout time.Duration
	var avType string

	cmd := &cobra.Command{
		Use:   "resolve <node> <service>",
		Short: "Resolve peers into an address vector and print their fabric addresses",
		Long: `resolve opens an address vector on the configured sockets provider and
inserts node/service, or nodes x services peers with symmetric naming when
--nodes or --services exceed one.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := opts.provider()
			if err != nil {
				return err
			}
			cfg := client.Config{
				Provider:         name,
				Timeout:          timeout,
				StructuredLogger: opts.logger,
			}
			if avType != "" {
				t, err := fi.ParseAVType(avType)
				if err != nil {
					return err
				}
				cfg.AVType = t
			}
			cli, err := client.Dial(cfg)
			if err != nil {
				return err
			}
			defer cli.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			out := cmd.OutOrStdout()
			node, service := args[0], args[1]

			if nodes <= 1 && services <= 1 {
				addr, err := cli.RegisterPeerService(ctx, node, service)
				if err != nil {
					return err
				}
				str, err := cli.PeerAddress(addr)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d\t%s\n", uint64(addr), str)
				return nil
			}

			res, err := cli.RegisterPeerGroup(ctx, node, max(nodes, 1), service, max(services, 1))
			for i, addr := range res.Addresses {
				if i < len(res.Errors) && res.Errors[i] != nil {
					fmt.Fprintf(out, "-\t%v\n", res.Errors[i])
					continue
				}
				str, lookupErr := cli.PeerAddress(addr)
				if lookupErr != nil {
					return lookupErr
				}
				fmt.Fprintf(out, "%d\t%s\n", uint64(addr), str)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&nodes, "nodes", "n", 1, "Number of nodes for symmetric insertion")
	cmd.Flags().IntVarP(&services, "services", "s", 1, "Number of services per node")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Resolution timeout")
	cmd.Flags().StringVar(&avType, "av-type", "", "Address vector type (map or table)")
	return cmd
}
