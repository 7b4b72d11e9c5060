// Package mcp exposes the inventory and topology over the Model
// Context Protocol so assistants can query the poller's state.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/paularlott/mcp"
	"github.com/rs/zerolog"

	"linkmapd/internal/model"
	"linkmapd/internal/topology"
)

// Store is the read surface the MCP tools run against.
type Store interface {
	GetDevice(ref string) (*model.Device, error)
	ListDevices() ([]model.Device, error)
	ListInterfaces(deviceID string) ([]model.Interface, error)
	ListTopologyLinks() ([]model.TopologyLink, error)
	ListDiscoveredDevices() ([]model.DiscoveredDevice, error)
}

// Server wraps the MCP server with storage and the backfill job.
type Server struct {
	mcpServer   *mcp.Server
	store       Store
	backfill    *topology.Backfill
	bearerToken string
	log         zerolog.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(store Store, backfill *topology.Backfill, bearerToken string, log zerolog.Logger) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("linkmapd", "1.0.0"),
		store:       store,
		backfill:    backfill,
		bearerToken: bearerToken,
		log:         log.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_status", "Get the polling status of one device (by ID, hostname or IP) or a status summary of all devices",
			mcp.String("id", "Device ID, hostname or IP (omit to list all devices)"),
		),
		s.handleDeviceStatus,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("topology_links", "List LLDP topology links, optionally only those whose destination is not a managed device",
			mcp.String("device", "Filter by source device ID, hostname or IP"),
			mcp.String("unresolved", "Set to 'true' to list only unresolved links"),
		),
		s.handleTopologyLinks,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("discovered_list", "List devices discovered via LLDP announcements that are not in the managed inventory"),
		s.handleDiscoveredList,
	)

	s.mcpServer.RegisterTool(
		mcp.NewTool("topology_backfill", "Resolve topology links with unknown destinations against the managed inventory using hostname, IP and MAC heuristics",
			mcp.String("dry_run", "Set to 'false' to apply matches; default reports without modifying anything"),
			mcp.String("limit", "Maximum number of links to process (default all)"),
		),
		s.handleTopologyBackfill,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token
// authentication.
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("remote_addr", r.RemoteAddr).Msg("request received")

	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("missing Authorization header")
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("invalid Authorization format")
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		if strings.TrimPrefix(auth, "Bearer ") != s.bearerToken {
			s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("invalid token")
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// GetHTTPHandler returns the HTTP handler for the MCP server.
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information.
func (s *Server) LogStartup() {
	if s.bearerToken != "" {
		s.log.Info().Str("auth", "bearer").Msg("MCP server initialized")
	} else {
		s.log.Info().Str("auth", "none").Msg("MCP server initialized")
	}
	tools := s.mcpServer.ListTools()
	s.log.Info().Int("count", len(tools)).Msg("MCP tools registered")
	for _, tool := range tools {
		s.log.Debug().Str("name", tool.Name).Msg("MCP tool registered")
	}
}

func (s *Server) handleDeviceStatus(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id := req.StringOr("id", "")

	if id != "" {
		device, err := s.store.GetDevice(id)
		if err != nil {
			s.log.Error().Err(err).Str("id", id).Msg("device status lookup failed")
			return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
		}
		return mcp.NewToolResponseText(s.formatDevice(device)), nil
	}

	devices, err := s.store.ListDevices()
	if err != nil {
		s.log.Error().Err(err).Msg("device list failed")
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}
	if len(devices) == 0 {
		return mcp.NewToolResponseText("No devices in inventory"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d devices:\n\n", len(devices)))
	for _, d := range devices {
		result.WriteString(s.formatDeviceLine(&d))
		result.WriteString("\n")
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleTopologyLinks(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	unresolvedOnly := req.StringOr("unresolved", "") == "true"

	var srcFilter string
	if ref := req.StringOr("device", ""); ref != "" {
		device, err := s.store.GetDevice(ref)
		if err != nil {
			return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
		}
		srcFilter = device.ID
	}

	links, err := s.store.ListTopologyLinks()
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list links: " + err.Error())
	}

	names, err := s.deviceNames()
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}

	var result strings.Builder
	count := 0
	for _, l := range links {
		if srcFilter != "" && l.SrcDeviceID != srcFilter {
			continue
		}
		if unresolvedOnly && l.Resolved() {
			continue
		}
		count++

		src := names[l.SrcDeviceID]
		if src == "" {
			src = l.SrcDeviceID
		}
		dst := l.DstHostname
		if l.Resolved() {
			if name := names[l.DstDeviceID]; name != "" {
				dst = name
			}
		}
		result.WriteString(fmt.Sprintf("%s [%s] -> %s [%s]", src, l.SrcInterface, dst, l.DstInterface))
		if !l.Resolved() {
			result.WriteString(" (unresolved)")
		}
		result.WriteString(fmt.Sprintf(" last seen %s\n", l.LastSeen.Format("2006-01-02 15:04:05")))
	}

	if count == 0 {
		return mcp.NewToolResponseText("No topology links found"), nil
	}
	return mcp.NewToolResponseText(fmt.Sprintf("Found %d links:\n\n%s", count, result.String())), nil
}

func (s *Server) handleDiscoveredList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	discovered, err := s.store.ListDiscoveredDevices()
	if err != nil {
		return nil, mcp.NewToolErrorInternal("failed to list discovered devices: " + err.Error())
	}
	if len(discovered) == 0 {
		return mcp.NewToolResponseText("No discovered devices"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d discovered devices:\n\n", len(discovered)))
	for _, d := range discovered {
		result.WriteString(fmt.Sprintf("- %s", d.Hostname))
		if d.IP != "" {
			result.WriteString(fmt.Sprintf(" (%s)", d.IP))
		}
		result.WriteString(fmt.Sprintf(", first seen %s, last seen %s\n",
			d.FirstSeen.Format("2006-01-02 15:04:05"), d.LastSeen.Format("2006-01-02 15:04:05")))
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleTopologyBackfill(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	dryRun := req.StringOr("dry_run", "true") != "false"

	limit := 0
	if v := req.StringOr("limit", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, mcp.NewToolErrorInvalidParams("limit must be a non-negative integer")
		}
		limit = n
	}

	report, err := s.backfill.Run(dryRun, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("backfill failed")
		return nil, mcp.NewToolErrorInternal("backfill failed: " + err.Error())
	}

	var result strings.Builder
	mode := "applied"
	if dryRun {
		mode = "dry run"
	}
	result.WriteString(fmt.Sprintf("Backfill %s: %d links processed, %d matched, %d updated\n",
		mode, report.Processed, len(report.Suggestions), report.Updated))
	for _, sg := range report.Suggestions {
		result.WriteString(fmt.Sprintf("- %q -> %s (%s)\n", sg.DstHostname, sg.MatchedHostname, sg.Reason))
	}
	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) deviceNames() (map[string]string, error) {
	devices, err := s.store.ListDevices()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(devices))
	for _, d := range devices {
		names[d.ID] = d.Label()
	}
	return names, nil
}

func (s *Server) formatDeviceLine(d *model.Device) string {
	line := fmt.Sprintf("- %s (%s): %s", d.Label(), d.IP, d.Status)
	if d.LastSeen != nil {
		line += fmt.Sprintf(", last seen %s", d.LastSeen.Format("2006-01-02 15:04:05"))
	}
	return line
}

func (s *Server) formatDevice(d *model.Device) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Hostname: %s\n", d.Hostname))
	result.WriteString(fmt.Sprintf("ID: %s\n", d.ID))
	result.WriteString(fmt.Sprintf("IP: %s\n", d.IP))
	result.WriteString(fmt.Sprintf("Status: %s\n", d.Status))
	if d.LastSeen != nil {
		result.WriteString(fmt.Sprintf("Last seen: %s\n", d.LastSeen.Format("2006-01-02 15:04:05")))
	}
	if d.LLDPHostname != "" {
		result.WriteString(fmt.Sprintf("LLDP hostname: %s\n", d.LLDPHostname))
	}

	ifaces, err := s.store.ListInterfaces(d.ID)
	if err == nil && len(ifaces) > 0 {
		result.WriteString("Interfaces:\n")
		for _, iface := range ifaces {
			result.WriteString(fmt.Sprintf("  - %s: %s", iface.Name, iface.Status))
			if iface.MAC != "" {
				result.WriteString(fmt.Sprintf(" (%s)", iface.MAC))
			}
			result.WriteString("\n")
		}
	}
	return result.String()
}
