package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/warp/wms-engine/api"
	"github.com/warp/wms-engine/factory"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/returns"
)

func newTable(out io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(header)
	return tw
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// SCENARIOS AND REQUESTS
// =============================================================================

func printScenarios(out io.Writer, list []api.ScenarioDTO) {
	tw := newTable(out, table.Row{"ID", "Category", "Name", "Description"})
	for _, s := range list {
		tw.AppendRow(table.Row{s.ID, s.Category, s.Name, s.Description})
	}
	tw.Render()
}

type requestRow struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Status     string   `json:"status"`
	Items      int      `json:"items"`
	Events     int      `json:"events"`
	Exceptions []string `json:"exceptions"`
}

func requestRows(aggs []*lifecycle.Aggregate) []requestRow {
	rows := make([]requestRow, 0, len(aggs))
	for _, a := range aggs {
		tags := make([]string, 0, len(a.Exceptions))
		for _, e := range a.Exceptions {
			tags = append(tags, string(e))
		}
		rows = append(rows, requestRow{
			ID:         string(a.ID),
			Kind:       string(a.Kind),
			Status:     string(a.Status),
			Items:      len(a.Items),
			Events:     len(a.Events),
			Exceptions: tags,
		})
	}
	return rows
}

func printRequests(out io.Writer, aggs []*lifecycle.Aggregate) {
	tw := newTable(out, table.Row{"ID", "Kind", "Status", "Items", "Events", "Exceptions"})
	for _, r := range requestRows(aggs) {
		tw.AppendRow(table.Row{r.ID, r.Kind, r.Status, r.Items, r.Events, strings.Join(r.Exceptions, ",")})
	}
	tw.Render()
}

// =============================================================================
// GRAPHS
// =============================================================================

type edgeRow struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Retry    bool   `json:"retry,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// graphRows lists every edge sorted by source then target. Retry marks the
// back edges allowed to close a cycle.
func graphRows(g *lifecycle.StatusGraph) []edgeRow {
	terminal := make(map[lifecycle.Status]bool, len(g.Terminal))
	for _, s := range g.Terminal {
		terminal[s] = true
	}
	retry := make(map[lifecycle.Edge]bool, len(g.Retry))
	for _, e := range g.Retry {
		retry[e] = true
	}
	var rows []edgeRow
	for from, targets := range g.Edges {
		for _, to := range targets {
			rows = append(rows, edgeRow{
				From:     string(from),
				To:       string(to),
				Retry:    retry[lifecycle.Edge{From: from, To: to}],
				Terminal: terminal[to],
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].From != rows[j].From {
			return rows[i].From < rows[j].From
		}
		return rows[i].To < rows[j].To
	})
	return rows
}

func printGraph(out io.Writer, g *lifecycle.StatusGraph, rows []edgeRow) {
	fmt.Fprintf(out, "%s  initial=%s  completion=%s\n", g.Kind, g.Initial, g.Completion)
	tw := newTable(out, table.Row{"From", "To", "Notes"})
	for _, r := range rows {
		var notes []string
		if r.Retry {
			notes = append(notes, "retry")
		}
		if r.Terminal {
			notes = append(notes, "terminal")
		}
		tw.AppendRow(table.Row{r.From, r.To, strings.Join(notes, ",")})
	}
	tw.Render()
}

// =============================================================================
// KPI
// =============================================================================

type snapshotJSON struct {
	Kind       string            `json:"kind"`
	Period     string            `json:"period"`
	Start      string            `json:"start"`
	End        string            `json:"end"`
	ComputedAt string            `json:"computed_at"`
	Metrics    map[string]string `json:"metrics"`
}

func snapshotDoc(s lifecycle.KPISnapshot) snapshotJSON {
	metrics := make(map[string]string)
	for name, v := range s.Metrics() {
		metrics[name] = v.String()
	}
	return snapshotJSON{
		Kind:       string(s.Kind()),
		Period:     string(s.Period()),
		Start:      s.Window().Start.Format(time.RFC3339),
		End:        s.Window().End.Format(time.RFC3339),
		ComputedAt: s.ComputedAt().Format(time.RFC3339),
		Metrics:    metrics,
	}
}

func printSnapshot(out io.Writer, s lifecycle.KPISnapshot) {
	w := s.Window()
	fmt.Fprintf(out, "%s %s  %s .. %s\n", s.Kind(), s.Period(), w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	tw := newTable(out, table.Row{"Metric", "Value"})
	for _, name := range s.Names() {
		v, _ := s.Metric(name)
		tw.AppendRow(table.Row{name, v.String()})
	}
	tw.Render()
}

// =============================================================================
// POLICIES
// =============================================================================

func printPolicies(out io.Writer, p factory.Policies) {
	in := newTable(out, table.Row{"Inbound", "Value"})
	in.AppendRow(table.Row{"large_order_threshold", p.Inbound.LargeOrderThreshold})
	in.AppendRow(table.Row{"approval_sla", p.Inbound.ApprovalSLA.String()})
	in.AppendRow(table.Row{"location_capacity", p.Inbound.LocationCapacity})
	in.AppendRow(table.Row{"default_lead_time", p.Inbound.DefaultLeadTime.String()})
	in.Render()

	services := make([]string, 0, len(p.Outbound.ServiceDays))
	for s := range p.Outbound.ServiceDays {
		services = append(services, s)
	}
	sort.Strings(services)
	ob := newTable(out, table.Row{"Carrier service", "Days"})
	for _, s := range services {
		ob.AppendRow(table.Row{s, p.Outbound.ServiceDays[s]})
	}
	ob.AppendRow(table.Row{"(default)", p.Outbound.DefaultServiceDays})
	ob.Render()

	reasons := make([]string, 0, len(p.Returns.Reasons))
	for r := range p.Returns.Reasons {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	rt := newTable(out, table.Row{"Return reason", "Window days", "Refund %", "Restockable"})
	for _, r := range reasons {
		rp := p.Returns.Reasons[returns.Reason(r)]
		rt.AppendRow(table.Row{r, rp.WindowDays, rp.RefundPercent, rp.Restockable})
	}
	rt.Render()

	grades := make([]string, 0, len(p.Returns.Grades))
	for g := range p.Returns.Grades {
		grades = append(grades, string(g))
	}
	sort.Strings(grades)
	gt := newTable(out, table.Row{"Grade", "Restockable", "Refund %", "Approval"})
	for _, g := range grades {
		gp := p.Returns.Grades[lifecycle.Grade(g)]
		gt.AppendRow(table.Row{g, gp.Restockable, gp.RefundPercent, gp.RequiresApproval})
	}
	gt.Render()
}
