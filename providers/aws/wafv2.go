package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/wafv2"
	waftypes "github.com/aws/aws-sdk-go-v2/service/wafv2/types"

	"github.com/stackform-io/stackform/internal/provider"
)

type WebACLConfig struct {
	Name                     string            `json:"name"`
	Scope                    string            `json:"scope"`
	Description              string            `json:"description"`
	DefaultAction            string            `json:"defaultAction"`
	Rules                    []WebACLRule      `json:"rules"`
	CloudWatchMetricsEnabled bool              `json:"cloudWatchMetricsEnabled"`
	MetricName               string            `json:"metricName"`
	SampledRequestsEnabled   bool              `json:"sampledRequestsEnabled"`
	Tags                     map[string]string `json:"tags"`
}

type WebACLRule struct {
	Name                   string `json:"name"`
	Priority               int32  `json:"priority"`
	Action                 string `json:"action"`
	ManagedRuleGroupName   string `json:"managedRuleGroupName"`
	ManagedRuleGroupVendor string `json:"managedRuleGroupVendor"`
	IPSetArn               string `json:"ipSetArn"`
}

type WebACLState struct {
	ID        string `json:"id"`
	ARN       string `json:"arn"`
	Name      string `json:"name"`
	Scope     string `json:"scope"`
	LockToken string `json:"lockToken"`
}

func wafScope(s string) waftypes.Scope {
	if s == "CLOUDFRONT" {
		return waftypes.ScopeCloudfront
	}
	return waftypes.ScopeRegional
}

func buildWebACLRules(desired *WebACLConfig) []waftypes.Rule {
	var rules []waftypes.Rule
	for _, r := range desired.Rules {
		rule := waftypes.Rule{
			Name:     strPtr(r.Name),
			Priority: r.Priority,
			VisibilityConfig: &waftypes.VisibilityConfig{
				CloudWatchMetricsEnabled: desired.CloudWatchMetricsEnabled,
				MetricName:               strPtr(r.Name),
				SampledRequestsEnabled:   desired.SampledRequestsEnabled,
			},
		}

		switch {
		case r.ManagedRuleGroupName != "":
			vendor := r.ManagedRuleGroupVendor
			if vendor == "" {
				vendor = "AWS"
			}
			rule.Statement = &waftypes.Statement{
				ManagedRuleGroupStatement: &waftypes.ManagedRuleGroupStatement{
					VendorName: strPtr(vendor),
					Name:       strPtr(r.ManagedRuleGroupName),
				},
			}
			rule.OverrideAction = &waftypes.OverrideAction{None: &waftypes.NoneAction{}}
		case r.IPSetArn != "":
			rule.Statement = &waftypes.Statement{
				IPSetReferenceStatement: &waftypes.IPSetReferenceStatement{
					ARN: strPtr(r.IPSetArn),
				},
			}
			rule.Action = ruleAction(r.Action)
		default:
			rule.Statement = &waftypes.Statement{}
			rule.Action = ruleAction(r.Action)
		}

		rules = append(rules, rule)
	}
	return rules
}

func ruleAction(action string) *waftypes.RuleAction {
	switch action {
	case "block":
		return &waftypes.RuleAction{Block: &waftypes.BlockAction{}}
	case "count":
		return &waftypes.RuleAction{Count: &waftypes.CountAction{}}
	default:
		return &waftypes.RuleAction{Allow: &waftypes.AllowAction{}}
	}
}

func (p *Provider) applyWebACL(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired WebACLConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	defaultAction := &waftypes.DefaultAction{}
	if desired.DefaultAction == "block" {
		defaultAction.Block = &waftypes.BlockAction{}
	} else {
		defaultAction.Allow = &waftypes.AllowAction{}
	}

	metricName := desired.MetricName
	if metricName == "" {
		metricName = desired.Name
	}
	visibility := &waftypes.VisibilityConfig{
		CloudWatchMetricsEnabled: desired.CloudWatchMetricsEnabled,
		MetricName:               &metricName,
		SampledRequestsEnabled:   desired.SampledRequestsEnabled,
	}
	rules := buildWebACLRules(&desired)

	var prior WebACLState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" {
		// Updates need a fresh lock token; the stored one goes stale.
		current, err := p.wafv2Client.GetWebACL(ctx, &wafv2.GetWebACLInput{
			Id:    &prior.ID,
			Name:  &prior.Name,
			Scope: wafScope(prior.Scope),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get web ACL: %w", err)
		}

		input := &wafv2.UpdateWebACLInput{
			Id:               &prior.ID,
			Name:             &prior.Name,
			Scope:            wafScope(prior.Scope),
			LockToken:        current.LockToken,
			DefaultAction:    defaultAction,
			Rules:            rules,
			VisibilityConfig: visibility,
		}
		if desired.Description != "" {
			input.Description = &desired.Description
		}

		resp, err := p.wafv2Client.UpdateWebACL(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to update web ACL: %w", err)
		}

		newState := prior
		if resp.NextLockToken != nil {
			newState.LockToken = *resp.NextLockToken
		}
		stateJSON, _ := json.Marshal(newState)
		return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	input := &wafv2.CreateWebACLInput{
		Name:             &desired.Name,
		Scope:            wafScope(desired.Scope),
		DefaultAction:    defaultAction,
		Rules:            rules,
		VisibilityConfig: visibility,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, waftypes.Tag{Key: strPtr(k), Value: strPtr(v)})
	}

	resp, err := p.wafv2Client.CreateWebACL(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create web ACL: %w", err)
	}

	newState := WebACLState{
		ID:        *resp.Summary.Id,
		ARN:       *resp.Summary.ARN,
		Name:      *resp.Summary.Name,
		Scope:     desired.Scope,
		LockToken: *resp.Summary.LockToken,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) readWebACL(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var prior WebACLState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	resp, err := p.wafv2Client.GetWebACL(ctx, &wafv2.GetWebACLInput{
		Id:    &prior.ID,
		Name:  &prior.Name,
		Scope: wafScope(prior.Scope),
	})
	if err != nil {
		var nf *waftypes.WAFNonexistentItemException
		if errors.As(err, &nf) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read web ACL: %w", err)
	}

	if resp.LockToken != nil {
		prior.LockToken = *resp.LockToken
	}
	stateJSON, _ := json.Marshal(prior)
	return &provider.ReadResponse{Exists: true, NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteWebACL(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior WebACLState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	if prior.ID == "" {
		return &provider.DeleteResponse{}, nil
	}

	current, err := p.wafv2Client.GetWebACL(ctx, &wafv2.GetWebACLInput{
		Id:    &prior.ID,
		Name:  &prior.Name,
		Scope: wafScope(prior.Scope),
	})
	if err != nil {
		var nf *waftypes.WAFNonexistentItemException
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to get web ACL: %w", err)
	}

	_, err = p.wafv2Client.DeleteWebACL(ctx, &wafv2.DeleteWebACLInput{
		Id:        &prior.ID,
		Name:      &prior.Name,
		Scope:     wafScope(prior.Scope),
		LockToken: current.LockToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete web ACL: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}

type IPSetConfig struct {
	Name             string            `json:"name"`
	Scope            string            `json:"scope"`
	Description      string            `json:"description"`
	IPAddressVersion string            `json:"ipAddressVersion"`
	Addresses        []string          `json:"addresses"`
	Tags             map[string]string `json:"tags"`
}

type IPSetState struct {
	ID        string `json:"id"`
	ARN       string `json:"arn"`
	Name      string `json:"name"`
	Scope     string `json:"scope"`
	LockToken string `json:"lockToken"`
}

func (p *Provider) applyIPSet(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired IPSetConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior IPSetState
	if len(req.PriorJSON) > 0 {
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	if prior.ID != "" {
		current, err := p.wafv2Client.GetIPSet(ctx, &wafv2.GetIPSetInput{
			Id:    &prior.ID,
			Name:  &prior.Name,
			Scope: wafScope(prior.Scope),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get IP set: %w", err)
		}

		input := &wafv2.UpdateIPSetInput{
			Id:        &prior.ID,
			Name:      &prior.Name,
			Scope:     wafScope(prior.Scope),
			LockToken: current.LockToken,
			Addresses: desired.Addresses,
		}
		if desired.Description != "" {
			input.Description = &desired.Description
		}

		resp, err := p.wafv2Client.UpdateIPSet(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to update IP set: %w", err)
		}

		newState := prior
		if resp.NextLockToken != nil {
			newState.LockToken = *resp.NextLockToken
		}
		stateJSON, _ := json.Marshal(newState)
		return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
	}

	input := &wafv2.CreateIPSetInput{
		Name:             &desired.Name,
		Scope:            wafScope(desired.Scope),
		IPAddressVersion: waftypes.IPAddressVersion(desired.IPAddressVersion),
		Addresses:        desired.Addresses,
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	for k, v := range desired.Tags {
		input.Tags = append(input.Tags, waftypes.Tag{Key: strPtr(k), Value: strPtr(v)})
	}

	resp, err := p.wafv2Client.CreateIPSet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create IP set: %w", err)
	}

	newState := IPSetState{
		ID:        *resp.Summary.Id,
		ARN:       *resp.Summary.ARN,
		Name:      *resp.Summary.Name,
		Scope:     desired.Scope,
		LockToken: *resp.Summary.LockToken,
	}
	stateJSON, _ := json.Marshal(newState)
	return &provider.ApplyResponse{NewStateJSON: stateJSON}, nil
}

func (p *Provider) readIPSet(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var prior IPSetState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	resp, err := p.wafv2Client.GetIPSet(ctx, &wafv2.GetIPSetInput{
		Id:    &prior.ID,
		Name:  &prior.Name,
		Scope: wafScope(prior.Scope),
	})
	if err != nil {
		var nf *waftypes.WAFNonexistentItemException
		if errors.As(err, &nf) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to read IP set: %w", err)
	}

	if resp.LockToken != nil {
		prior.LockToken = *resp.LockToken
	}
	stateJSON, _ := json.Marshal(prior)
	return &provider.ReadResponse{Exists: true, NewStateJSON: stateJSON}, nil
}

func (p *Provider) deleteIPSet(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	var prior IPSetState
	if len(req.CurrentJSON) > 0 {
		if err := json.Unmarshal(req.CurrentJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}
	if prior.ID == "" {
		return &provider.DeleteResponse{}, nil
	}

	current, err := p.wafv2Client.GetIPSet(ctx, &wafv2.GetIPSetInput{
		Id:    &prior.ID,
		Name:  &prior.Name,
		Scope: wafScope(prior.Scope),
	})
	if err != nil {
		var nf *waftypes.WAFNonexistentItemException
		if errors.As(err, &nf) {
			return &provider.DeleteResponse{}, nil
		}
		return nil, fmt.Errorf("failed to get IP set: %w", err)
	}

	_, err = p.wafv2Client.DeleteIPSet(ctx, &wafv2.DeleteIPSetInput{
		Id:        &prior.ID,
		Name:      &prior.Name,
		Scope:     wafScope(prior.Scope),
		LockToken: current.LockToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete IP set: %w", err)
	}
	return &provider.DeleteResponse{}, nil
}
