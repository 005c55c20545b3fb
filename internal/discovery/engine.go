// Package discovery finds every chain and device in a rack document.
//
// The engine runs an ordered registry of chain patterns over the parsed XML,
// descends recursively into nested chains, and finishes with a rescan of every
// chain-named node so that chains missed by the patterns are still recorded.
package discovery

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/observability"
)

// Result is the output of one discovery run.
type Result struct {
	Summary chain.Summary
	Chains  []chain.Chain
}

// Preview returns the root-chain preview of the result.
func (r *Result) Preview() []PreviewEntry {
	return HierarchyPreview(r.Chains)
}

// Engine discovers chains. It holds no per-run state and is safe for
// concurrent use across documents.
type Engine struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in chain patterns.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records analysis counters and durations into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source used for durations and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with the default pattern registry.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		registry: DefaultRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze runs discovery over one decompressed rack document.
func (e *Engine) Analyze(rackID string, data []byte) (*Result, error) {
	return e.AnalyzeContext(context.Background(), rackID, data)
}

// AnalyzeContext is Analyze with tracing. The context is not used to cut the
// run short; the duration budget is only measured and reported.
//
// On a parse failure the returned Result carries a failure summary and no
// chains, alongside a non-nil *XMLParseError.
func (e *Engine) AnalyzeContext(ctx context.Context, rackID string, data []byte) (*Result, error) {
	_, span := observability.StartAnalyzeSpan(ctx, rackID, len(data))
	defer span.End()

	start := e.now()
	e.logger.Info("starting nested chain analysis", "rack_id", rackID, "bytes", len(data))

	doc, err := parse(data)
	if err != nil {
		end := e.now()
		res := &Result{Summary: FailureSummary(rackID, err, start, end)}
		e.logger.Error("nested chain analysis failed", "rack_id", rackID, "error", err, "duration_ms", res.Summary.AnalysisDurationMS)
		observability.RecordError(span, err)
		if e.metrics != nil {
			e.metrics.RecordAnalysis(end.Sub(start), 0, false, false)
		}
		return res, err
	}

	r := newRun(e, rackID, start)
	r.indexTree(doc, "")
	r.detect(doc)
	r.rescan(doc)
	ok := r.checkChains()

	end := e.now()
	res := r.finish(ok, start, end)

	observability.RecordAnalyzeResult(span, len(res.Chains), res.Summary.TotalDevices,
		res.Summary.MaxNestingDepth, res.Summary.AnalysisDurationMS, res.Summary.ConstitutionalCompliant)
	if e.metrics != nil {
		e.metrics.RecordAnalysis(end.Sub(start), len(res.Chains), true,
			res.Summary.AnalysisDurationMS > chain.MaxAnalysisDurationMS)
		e.metrics.RecoveredChains.Add(float64(r.recoveredCount))
	}
	e.logger.Info("nested chain analysis completed",
		"rack_id", rackID,
		"chains_detected", len(res.Chains),
		"constitutional_compliant", res.Summary.ConstitutionalCompliant,
		"duration_ms", res.Summary.AnalysisDurationMS,
	)
	return res, nil
}

func parse(data []byte) (*xmlquery.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &XMLParseError{Messages: []string{"Document is empty"}}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &XMLParseError{Messages: []string{strings.TrimSpace(err.Error())}}
	}
	roots := 0
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			roots++
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(c.Data) != "" {
				return nil, &XMLParseError{Messages: []string{extraContent}}
			}
		}
	}
	switch {
	case roots == 0:
		return nil, &XMLParseError{Messages: []string{"Start tag expected, no root element found"}}
	case roots > 1:
		return nil, &XMLParseError{Messages: []string{extraContent}}
	}
	return doc, nil
}

// A well-formed document has exactly one root element and nothing but
// markup or whitespace around it.
const extraContent = "Extra content at the end of the document"

// FailureSummary is the summary recorded for a run that failed before discovery.
func FailureSummary(rackID string, err error, start, end time.Time) chain.Summary {
	return chain.Summary{
		RackID:              rackID,
		AnalysisComplete:    false,
		Error:               err.Error(),
		AnalysisDurationMS:  millis(end.Sub(start)),
		ProcessedAt:         end,
		AnalyzerVersion:     chain.AnalyzerVersion,
		DeviceTypeBreakdown: map[chain.DeviceType]int{},
	}
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}

// ChainID derives the deterministic identifier for a chain node.
func ChainID(xmlPath string, depth int) string {
	sum := md5.Sum([]byte(xmlPath))
	return fmt.Sprintf("chain_%02d_%s", depth, hex.EncodeToString(sum[:])[:8])
}

// run holds the state of one discovery pass over one document.
type run struct {
	e          *Engine
	rackID     string
	analyzedAt time.Time

	paths     map[*xmlquery.Node]string
	order     map[*xmlquery.Node]int
	boundary  map[*xmlquery.Node]bool
	recorded  map[*xmlquery.Node]int
	ids       map[string]string
	truncated map[*xmlquery.Node]bool

	chains         []chain.Chain
	issues         []string
	totalDevices   int
	breakdown      map[chain.DeviceType]int
	maxDepth       int
	recoveredCount int
}

func newRun(e *Engine, rackID string, start time.Time) *run {
	return &run{
		e:          e,
		rackID:     rackID,
		analyzedAt: start,
		paths:      make(map[*xmlquery.Node]string),
		order:      make(map[*xmlquery.Node]int),
		boundary:   make(map[*xmlquery.Node]bool),
		recorded:   make(map[*xmlquery.Node]int),
		ids:        make(map[string]string),
		truncated:  make(map[*xmlquery.Node]bool),
		breakdown:  make(map[chain.DeviceType]int),
	}
}

func qname(n *xmlquery.Node) string {
	if n.Prefix != "" {
		return n.Prefix + ":" + n.Data
	}
	return n.Data
}

// indexTree assigns every element its absolute path and document position.
// Same-named siblings get a 1-based position suffix.
func (r *run) indexTree(n *xmlquery.Node, prefix string) {
	counts := make(map[string]int)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			counts[qname(c)]++
		}
	}
	seen := make(map[string]int)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		name := qname(c)
		seen[name]++
		path := prefix + "/" + name
		if counts[name] > 1 {
			path += fmt.Sprintf("[%d]", seen[name])
		}
		r.paths[c] = path
		r.order[c] = len(r.order)
		r.indexTree(c, path)
	}
}

func (r *run) sortByDocument(nodes []*xmlquery.Node) {
	sort.SliceStable(nodes, func(i, j int) bool { return r.order[nodes[i]] < r.order[nodes[j]] })
}

// detect runs the registry patterns, then analyzes root candidates, then
// attaches any candidate the nested recursion did not reach.
func (r *run) detect(doc *xmlquery.Node) {
	var candidates []*xmlquery.Node
	isCandidate := make(map[*xmlquery.Node]bool)
	for _, p := range r.e.registry.Patterns() {
		matches := xmlquery.QuerySelectorAll(doc, p.compiled)
		if len(matches) > 0 {
			r.e.logger.Debug("found chains with pattern", "pattern", p.Name, "count", len(matches))
		}
		for _, m := range matches {
			if m.Type != xmlquery.ElementNode || isCandidate[m] {
				continue
			}
			isCandidate[m] = true
			candidates = append(candidates, m)
		}
	}
	r.sortByDocument(candidates)

	// Chain boundaries decide which chain owns a device.
	for _, n := range candidates {
		r.boundary[n] = true
	}
	for _, n := range xmlquery.QuerySelectorAll(doc, rescanPattern.compiled) {
		r.boundary[n] = true
	}

	for _, n := range candidates {
		if !hasAncestorIn(n, isCandidate) {
			r.analyzeChain(n, 0, "")
		}
	}
	for _, n := range candidates {
		if _, done := r.recorded[n]; done {
			continue
		}
		parentID, depth := r.attachPoint(n)
		r.analyzeChain(n, depth, parentID)
	}
}

func hasAncestorIn(n *xmlquery.Node, set map[*xmlquery.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if set[p] {
			return true
		}
	}
	return false
}

// attachPoint finds the nearest recorded chain above n.
func (r *run) attachPoint(n *xmlquery.Node) (string, int) {
	for p := n.Parent; p != nil; p = p.Parent {
		if idx, ok := r.recorded[p]; ok {
			return r.chains[idx].ID, r.chains[idx].DepthLevel + 1
		}
	}
	return "", 0
}

func (r *run) underTruncated(n *xmlquery.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if r.truncated[p] {
			return true
		}
	}
	return false
}

// analyzeChain records n at depth and recurses into its nested chains.
// It reports whether a new chain was recorded.
func (r *run) analyzeChain(n *xmlquery.Node, depth int, parentID string) bool {
	if r.underTruncated(n) {
		return false
	}
	if _, done := r.recorded[n]; done {
		return false
	}
	if depth > chain.MaxNestingDepth {
		r.issues = append(r.issues, fmt.Sprintf("Chain nesting depth exceeded maximum limit (%d > %d)", depth, chain.MaxNestingDepth))
		r.truncated[n] = true
		return false
	}

	path := r.paths[n]
	id := ChainID(path, depth)
	if existing, ok := r.ids[id]; ok {
		if existing != path {
			r.issues = append(r.issues, fmt.Sprintf("Chain identifier collision for %s and %s", existing, path))
		}
		return false
	}

	devices := r.devices(n)
	c := chain.Chain{
		ID:            id,
		RackID:        r.rackID,
		XMLPath:       path,
		ParentChainID: parentID,
		DepthLevel:    depth,
		DeviceCount:   len(devices),
		IsEmpty:       len(devices) == 0,
		Devices:       devices,
		Parameters:    r.chainParameters(n),
		Metadata:      r.metadata(n),
		AnalyzedAt:    r.analyzedAt,
	}
	parentName := ""
	if n.Parent != nil {
		parentName = qname(n.Parent)
	}
	c.Type = ClassifyChain(parentName, devices)

	r.recorded[n] = len(r.chains)
	r.ids[id] = path
	r.chains = append(r.chains, c)

	r.totalDevices += len(devices)
	for _, d := range devices {
		r.breakdown[d.Type]++
	}
	if depth > r.maxDepth {
		r.maxDepth = depth
	}

	for _, p := range nestedChainPatterns {
		for _, m := range xmlquery.QuerySelectorAll(n, p.compiled) {
			if m == n {
				continue
			}
			r.analyzeChain(m, depth+1, id)
		}
	}
	return true
}

// rescan diffs every chain-named node against the recorded paths and runs a
// recovery pass over the ones no pattern reached.
func (r *run) rescan(doc *xmlquery.Node) {
	var missed []*xmlquery.Node
	for _, n := range xmlquery.QuerySelectorAll(doc, rescanPattern.compiled) {
		if _, done := r.recorded[n]; done || r.underTruncated(n) {
			continue
		}
		missed = append(missed, n)
	}
	if len(missed) == 0 {
		return
	}
	r.sortByDocument(missed)

	r.issues = append(r.issues, fmt.Sprintf("Comprehensive scan detected %d potentially missed chains", len(missed)))
	r.e.logger.Warn("potential chains missed during primary analysis", "rack_id", r.rackID, "missed", len(missed))

	before := len(r.chains)
	for _, n := range missed {
		if _, done := r.recorded[n]; done {
			continue
		}
		parentID, depth := r.attachPoint(n)
		r.analyzeChain(n, depth, parentID)
	}
	for _, c := range r.chains[before:] {
		r.issues = append(r.issues, fmt.Sprintf("Recovered chain at %s missed by primary patterns", c.XMLPath))
	}
	r.recoveredCount = len(r.chains) - before
}

// checkChains applies the discovery-time completeness checks.
func (r *run) checkChains() bool {
	ok := true
	if len(r.chains) == 0 {
		r.issues = append(r.issues, "No chains detected - verify this is expected for this rack type")
	}
	for _, c := range r.chains {
		if c.ID == "" || c.XMLPath == "" {
			r.issues = append(r.issues, "Invalid chain detected without proper identifier or XML path")
			ok = false
		}
	}
	return ok
}

func (r *run) finish(ok bool, start, end time.Time) *Result {
	duration := millis(end.Sub(start))
	if duration > chain.MaxAnalysisDurationMS {
		r.issues = append(r.issues, fmt.Sprintf("Analysis duration (%gms) exceeded constitutional limit (%dms)", duration, chain.MaxAnalysisDurationMS))
		ok = false
	}
	issues := r.issues
	if issues == nil {
		issues = []string{}
	}
	return &Result{
		Chains: r.chains,
		Summary: chain.Summary{
			RackID:                  r.rackID,
			TotalChainsDetected:     len(r.chains),
			MaxNestingDepth:         r.maxDepth,
			TotalDevices:            r.totalDevices,
			DeviceTypeBreakdown:     r.breakdown,
			HasNestedChains:         len(r.chains) > 0,
			AnalysisDurationMS:      duration,
			ComplianceIssues:        issues,
			ConstitutionalCompliant: ok && len(issues) == 0,
			ProcessedAt:             end,
			AnalyzerVersion:         chain.AnalyzerVersion,
			AnalysisComplete:        true,
		},
	}
}

// owns reports whether node lies inside scope without crossing another chain boundary.
func (r *run) owns(scope, node *xmlquery.Node) bool {
	for p := node.Parent; p != nil; p = p.Parent {
		if p == scope {
			return true
		}
		if r.boundary[p] {
			return false
		}
	}
	return false
}

func (r *run) devices(n *xmlquery.Node) []chain.Device {
	seen := make(map[*xmlquery.Node]bool)
	devices := []chain.Device{}
	for _, p := range devicePatterns {
		for _, d := range xmlquery.QuerySelectorAll(n, p.compiled) {
			if seen[d] || !r.owns(n, d) {
				continue
			}
			seen[d] = true
			devices = append(devices, r.device(d, len(devices)))
		}
	}
	return devices
}

func (r *run) device(d *xmlquery.Node, index int) chain.Device {
	name := qname(d)
	return chain.Device{
		Name:         r.deviceName(d),
		Type:         DeviceTypeFor(name),
		Index:        index,
		IsPluginLike: IsPluginLike(name),
		NodeName:     name,
		Parameters:   r.idValues(d, parameterPattern, ""),
	}
}

var nameFieldPatterns = func() []Pattern {
	out := make([]Pattern, 0, len(deviceNameFields))
	for _, f := range deviceNameFields {
		out = append(out, mustPattern("name_"+f, ".//"+f))
	}
	return out
}()

func (r *run) deviceName(d *xmlquery.Node) string {
	for _, p := range nameFieldPatterns {
		for _, m := range xmlquery.QuerySelectorAll(d, p.compiled) {
			if !r.owns(d, m) {
				continue
			}
			if v := strings.TrimSpace(m.SelectAttr("Value")); v != "" {
				return v
			}
			break
		}
	}
	return qname(d)
}

// idValues collects @Id -> Manual/@Value pairs for matches of p inside scope.
func (r *run) idValues(scope *xmlquery.Node, p Pattern, keyPrefix string) map[string]string {
	out := make(map[string]string)
	for _, m := range xmlquery.QuerySelectorAll(scope, p.compiled) {
		if !r.owns(scope, m) {
			continue
		}
		id := m.SelectAttr("Id")
		if id == "" {
			continue
		}
		value := ""
		if manual := childElement(m, "Manual"); manual != nil {
			value = manual.SelectAttr("Value")
		}
		out[keyPrefix+id] = value
	}
	return out
}

func (r *run) chainParameters(n *xmlquery.Node) map[string]string {
	return r.idValues(n, macroPattern, "macro_")
}

func (r *run) metadata(n *xmlquery.Node) chain.Metadata {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		key := a.Name.Local
		if a.Name.Space != "" {
			key = a.Name.Space + ":" + key
		}
		attrs[key] = a.Value
	}
	return chain.Metadata{
		NodeName:      qname(n),
		Attributes:    attrs,
		HasSends:      childElement(n, "Sends") != nil,
		HasReturns:    childElement(n, "Returns") != nil,
		HasAutomation: childElement(n, "AutomationEnvelopes") != nil,
	}
}

func childElement(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && qname(c) == name {
			return c
		}
	}
	return nil
}
