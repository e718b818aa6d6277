package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func siteSpecs() []ResourceSpec {
	return []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "site-origin"}},
		{Kind: KindCertificate, ID: "cert", Attributes: Attributes{"domain": "www.example.com"}},
		{Kind: KindDNSRecordSet, ID: "cert-validation", Attributes: Attributes{
			"name":  "${cert.validation_name}",
			"value": "${cert.validation_value}",
		}},
		{Kind: KindCDNDistribution, ID: "cdn", Attributes: Attributes{
			"origin":      "${origin.name}",
			"certificate": "${cert.arn}",
		}, DependsOn: []string{"cert-validation"}},
		{Kind: KindAliasRecord, ID: "alias", Attributes: Attributes{
			"target": "${cdn.domain_name}",
		}},
		{Kind: KindPolicyAttachment, ID: "origin-policy", Attributes: Attributes{
			"bucket": "${origin.name}",
		}},
	}
}

func TestBuildGraphEdges(t *testing.T) {
	g, err := BuildGraph(siteSpecs())
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	if g.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", g.Len())
	}

	// Interpolation references and explicit DependsOn both become edges.
	wantDeps := map[string][]string{
		"origin":          nil,
		"cert":            nil,
		"cert-validation": {"cert"},
		"cdn":             {"cert", "cert-validation", "origin"},
		"alias":           {"cdn"},
		"origin-policy":   {"origin"},
	}
	for id, want := range wantDeps {
		got := g.DependenciesOf(id)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("DependenciesOf(%s) = %v, want %v", id, got, want)
		}
	}

	if got := g.DependentsOf("cert"); !reflect.DeepEqual(got, []string{"cdn", "cert-validation"}) {
		t.Errorf("DependentsOf(cert) = %v", got)
	}
}

func TestBuildGraphLevels(t *testing.T) {
	g, err := BuildGraph(siteSpecs())
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	want := [][]string{
		{"cert", "origin"},
		{"cert-validation", "origin-policy"},
		{"cdn"},
		{"alias"},
	}
	if got := g.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Levels() = %v, want %v", got, want)
	}
}

func TestBuildGraphDuplicateID(t *testing.T) {
	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "a"}},
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "b"}},
	}
	_, err := BuildGraph(specs)
	if !IsValidation(err) {
		t.Fatalf("BuildGraph() error = %v, want validation error", err)
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error %q does not mention the duplicate", err)
	}
}

func TestBuildGraphDanglingReference(t *testing.T) {
	specs := []ResourceSpec{
		{Kind: KindAliasRecord, ID: "alias", Attributes: Attributes{"target": "${cdn.domain_name}"}},
	}
	_, err := BuildGraph(specs)
	if !IsValidation(err) {
		t.Fatalf("BuildGraph() error = %v, want validation error", err)
	}
	var dangling *DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Fatalf("BuildGraph() error = %v, want DanglingReferenceError", err)
	}
	if dangling.From != "alias" || dangling.To != "cdn" {
		t.Errorf("dangling = %+v, want alias -> cdn", dangling)
	}
}

func TestBuildGraphDanglingDependsOn(t *testing.T) {
	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "origin", Attributes: Attributes{"name": "a"}, DependsOn: []string{"missing"}},
	}
	var dangling *DanglingReferenceError
	if _, err := BuildGraph(specs); !errors.As(err, &dangling) {
		t.Fatalf("BuildGraph() error = %v, want DanglingReferenceError", err)
	}
}

func TestBuildGraphCycle(t *testing.T) {
	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "a", Attributes: Attributes{"x": "${c.out}"}},
		{Kind: KindBucket, ID: "b", Attributes: Attributes{"x": "${a.out}"}},
		{Kind: KindBucket, ID: "c", Attributes: Attributes{"x": "${b.out}"}},
	}
	_, err := BuildGraph(specs)
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("BuildGraph() error = %v, want CycleError", err)
	}
	// The reported path closes on itself and names all three nodes.
	if len(cycle.Cycle) != 4 || cycle.Cycle[0] != cycle.Cycle[len(cycle.Cycle)-1] {
		t.Errorf("cycle = %v, want a closed three-node path", cycle.Cycle)
	}
}

func TestBuildGraphSelfReference(t *testing.T) {
	specs := []ResourceSpec{
		{Kind: KindBucket, ID: "a", Attributes: Attributes{"x": "${a.out}"}},
	}
	var cycle *CycleError
	if _, err := BuildGraph(specs); !errors.As(err, &cycle) {
		t.Fatalf("BuildGraph() error = %v, want CycleError", err)
	}
}

func TestGraphDOT(t *testing.T) {
	g, err := BuildGraph(siteSpecs())
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	dot := g.DOT()
	if !strings.Contains(dot, "digraph resources") {
		t.Error("DOT() missing digraph header")
	}
	if !strings.Contains(dot, `"alias" -> "cdn";`) {
		t.Errorf("DOT() missing alias -> cdn edge:\n%s", dot)
	}
	if !strings.Contains(dot, "cdnDistribution") {
		t.Error("DOT() node labels should include the kind")
	}
}

func TestTopoOrder(t *testing.T) {
	g, err := BuildGraph(siteSpecs())
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	order := g.TopoOrder()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range g.IDs() {
		for _, dep := range g.DependenciesOf(id) {
			if pos[dep] > pos[id] {
				t.Errorf("dependency %s ordered after %s", dep, id)
			}
		}
	}
}
