/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON policy definitions into inbound.Policy, outbound.Policy and
  returns.Policy. Operations can tune thresholds, carrier transit times and
  refund tables without a release; the factory fills gaps with defaults and
  rejects documents the services could not run with.

JSON SCHEMA:
  {
    "inbound": {
      "large_order_threshold": 100000,
      "approval_sla_minutes": 60,
      "location_capacity": 100,
      "default_lead_time_hours": 24
    },
    "outbound": {
      "service_days": {"EXPRESS": 1, "STANDARD": 2},
      "default_service_days": 3
    },
    "returns": {
      "reasons": {
        "CUSTOMER_CHANGE_OF_MIND": {"window_days": 30, "refund_percent": 100, "restockable": true}
      },
      "grades": {
        "GRADE_C": {"restockable": false, "refund_percent": 50, "requires_approval": true}
      }
    }
  }

  Every section is optional. A missing section yields that domain's
  DefaultPolicy; a present "reasons" or "grades" map replaces the default
  map for that key only.

USAGE:
  f := factory.NewPolicyFactory()
  policies, err := f.ParsePolicies(jsonString)

  inboundSvc := inbound.NewService(flow, policies.Inbound)

SEE ALSO:
  - inbound/service.go, outbound/service.go: Policy types
  - returns/policy.go: refund and disposition rules
  - config/config.go: policy_file setting
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/warp/wms-engine/inbound"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/outbound"
	"github.com/warp/wms-engine/returns"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PoliciesJSON is the JSON representation of every domain policy.
type PoliciesJSON struct {
	Inbound  *InboundPolicyJSON  `json:"inbound,omitempty"`
	Outbound *OutboundPolicyJSON `json:"outbound,omitempty"`
	Returns  *ReturnPolicyJSON   `json:"returns,omitempty"`
}

type InboundPolicyJSON struct {
	LargeOrderThreshold  int `json:"large_order_threshold,omitempty"`
	ApprovalSLAMinutes   int `json:"approval_sla_minutes,omitempty"`
	LocationCapacity     int `json:"location_capacity,omitempty"`
	DefaultLeadTimeHours int `json:"default_lead_time_hours,omitempty"`
}

type OutboundPolicyJSON struct {
	ServiceDays        map[string]int `json:"service_days,omitempty"`
	DefaultServiceDays int            `json:"default_service_days,omitempty"`
}

type ReturnPolicyJSON struct {
	Reasons map[string]ReasonJSON `json:"reasons,omitempty"`
	Grades  map[string]GradeJSON  `json:"grades,omitempty"`
}

// ReasonJSON and GradeJSON patch the default entry of the same name. Nil
// fields keep the default; a new reason needs window_days.
type ReasonJSON struct {
	WindowDays    *int  `json:"window_days,omitempty"`
	RefundPercent *int  `json:"refund_percent,omitempty"`
	Restockable   *bool `json:"restockable,omitempty"`
}

type GradeJSON struct {
	Restockable      *bool `json:"restockable,omitempty"`
	RefundPercent    *int  `json:"refund_percent,omitempty"`
	RequiresApproval *bool `json:"requires_approval,omitempty"`
}

// Policies is the parsed result.
type Policies struct {
	Inbound  inbound.Policy
	Outbound outbound.Policy
	Returns  returns.Policy
}

// DefaultPolicies returns every domain default.
func DefaultPolicies() Policies {
	return Policies{
		Inbound:  inbound.DefaultPolicy(),
		Outbound: outbound.DefaultPolicy(),
		Returns:  returns.DefaultPolicy(),
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// PolicyFactory creates domain policies from JSON.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicies parses a full policy document.
func (f *PolicyFactory) ParsePolicies(jsonStr string) (Policies, error) {
	var pj PoliciesJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return Policies{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile parses the policy document at path.
func (f *PolicyFactory) LoadFile(path string) (Policies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return f.ParsePolicies(string(data))
}

// FromJSON converts PoliciesJSON, applying defaults for absent sections.
func (f *PolicyFactory) FromJSON(pj PoliciesJSON) (Policies, error) {
	out := DefaultPolicies()

	if pj.Inbound != nil {
		p, err := f.inboundPolicy(*pj.Inbound)
		if err != nil {
			return Policies{}, err
		}
		out.Inbound = p
	}
	if pj.Outbound != nil {
		p, err := f.outboundPolicy(*pj.Outbound)
		if err != nil {
			return Policies{}, err
		}
		out.Outbound = p
	}
	if pj.Returns != nil {
		p, err := f.returnPolicy(*pj.Returns)
		if err != nil {
			return Policies{}, err
		}
		out.Returns = p
	}
	return out, nil
}

func (f *PolicyFactory) inboundPolicy(j InboundPolicyJSON) (inbound.Policy, error) {
	if j.LargeOrderThreshold < 0 || j.ApprovalSLAMinutes < 0 || j.LocationCapacity < 0 || j.DefaultLeadTimeHours < 0 {
		return inbound.Policy{}, &lifecycle.ValidationError{Field: "inbound", Message: "values must not be negative"}
	}
	p := inbound.DefaultPolicy()
	if j.LargeOrderThreshold > 0 {
		p.LargeOrderThreshold = j.LargeOrderThreshold
	}
	if j.ApprovalSLAMinutes > 0 {
		p.ApprovalSLA = time.Duration(j.ApprovalSLAMinutes) * time.Minute
	}
	if j.LocationCapacity > 0 {
		p.LocationCapacity = j.LocationCapacity
	}
	if j.DefaultLeadTimeHours > 0 {
		p.DefaultLeadTime = time.Duration(j.DefaultLeadTimeHours) * time.Hour
	}
	return p, nil
}

func (f *PolicyFactory) outboundPolicy(j OutboundPolicyJSON) (outbound.Policy, error) {
	p := outbound.DefaultPolicy()
	if len(j.ServiceDays) > 0 {
		p.ServiceDays = make(map[string]int, len(j.ServiceDays))
		for service, days := range j.ServiceDays {
			if days <= 0 {
				return outbound.Policy{}, &lifecycle.ValidationError{
					Field:   "outbound.service_days." + service,
					Message: "must be positive",
				}
			}
			p.ServiceDays[service] = days
		}
	}
	if j.DefaultServiceDays < 0 {
		return outbound.Policy{}, &lifecycle.ValidationError{Field: "outbound.default_service_days", Message: "must not be negative"}
	}
	if j.DefaultServiceDays > 0 {
		p.DefaultServiceDays = j.DefaultServiceDays
	}
	return p, nil
}

func (f *PolicyFactory) returnPolicy(j ReturnPolicyJSON) (returns.Policy, error) {
	p := returns.DefaultPolicy()

	for name, r := range j.Reasons {
		rp, known := p.Reasons[returns.Reason(name)]
		if r.WindowDays != nil {
			rp.WindowDays = *r.WindowDays
		}
		if !known && r.WindowDays == nil {
			return returns.Policy{}, &lifecycle.ValidationError{
				Field:   "returns.reasons." + name,
				Message: "window_days is required for a new reason",
			}
		}
		if rp.WindowDays <= 0 {
			return returns.Policy{}, &lifecycle.ValidationError{
				Field:   "returns.reasons." + name,
				Message: "window_days must be positive",
			}
		}
		if r.RefundPercent != nil {
			rp.RefundPercent = *r.RefundPercent
		}
		if r.Restockable != nil {
			rp.Restockable = *r.Restockable
		}
		p.Reasons[returns.Reason(name)] = rp
	}
	for name, g := range j.Grades {
		grade := lifecycle.Grade(name)
		if !grade.Valid() {
			return returns.Policy{}, &lifecycle.ValidationError{
				Field:   "returns.grades." + name,
				Message: "unknown grade",
			}
		}
		gp := p.Grades[grade]
		if g.Restockable != nil {
			gp.Restockable = *g.Restockable
		}
		if g.RefundPercent != nil {
			gp.RefundPercent = *g.RefundPercent
		}
		if g.RequiresApproval != nil {
			gp.RequiresApproval = *g.RequiresApproval
		}
		p.Grades[grade] = gp
	}

	if err := p.Validate(); err != nil {
		return returns.Policy{}, err
	}
	return p, nil
}
