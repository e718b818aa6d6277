package config

import (
	"fmt"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Well-known resource ids produced by site expansion.
const (
	IDOrigin         = "origin"
	IDCertificate    = "cert"
	IDCertValidation = "cert-validation"
	IDDistribution   = "cdn"
	IDAlias          = "alias"
	IDOriginPolicy   = "origin-policy"
)

// Expand lowers a declaration into the concrete resource specs the engine
// converges: the six-resource site topology plus any raw resources. Cross
// resource coupling is expressed through ${id.attr} references so the graph
// builder derives the ordering, not this function.
func Expand(cfg *Config) ([]engine.ResourceSpec, error) {
	site := cfg.Site

	bucketName := site.Origin.Bucket
	if bucketName == "" {
		bucketName = fmt.Sprintf("%s-origin", site.Name)
	}

	sans := make([]any, 0, len(site.Certificate.AlternativeNames))
	for _, san := range site.Certificate.AlternativeNames {
		sans = append(sans, san)
	}

	specs := []engine.ResourceSpec{
		{
			Kind: engine.KindBucket,
			ID:   IDOrigin,
			Attributes: engine.Attributes{
				"name":           bucketName,
				"region":         site.Region,
				"versioning":     site.Origin.Versioning,
				"index_document": site.Origin.IndexDocument,
				"error_document": site.Origin.ErrorDocument,
			},
			Protect: site.Protect,
		},
		{
			Kind: engine.KindCertificate,
			ID:   IDCertificate,
			Attributes: engine.Attributes{
				"domain":            site.Domain,
				"alternative_names": sans,
				"validation_method": "dns",
			},
			Wait: site.Certificate.Wait.Spec(),
		},
		{
			Kind: engine.KindDNSRecordSet,
			ID:   IDCertValidation,
			Attributes: engine.Attributes{
				"zone":  site.Zone,
				"name":  "${cert.validation_name}",
				"type":  "CNAME",
				"value": "${cert.validation_value}",
				"ttl":   300,
			},
		},
		{
			Kind: engine.KindCDNDistribution,
			ID:   IDDistribution,
			Attributes: engine.Attributes{
				"origin":      "${origin.endpoint}",
				"certificate": "${cert.arn}",
				"aliases":     []any{site.Domain},
				"price_class": site.CDN.PriceClass,
				"compress":    site.CDN.Compress,
				"default_ttl": site.CDN.DefaultTTL.Std().Seconds(),
				"minimum_tls": site.CDN.MinimumTLS,
			},
			// The certificate must be validated, not merely requested,
			// before the distribution can attach it.
			DependsOn: []string{IDCertValidation},
		},
		{
			Kind: engine.KindAliasRecord,
			ID:   IDAlias,
			Attributes: engine.Attributes{
				"zone":   site.Zone,
				"name":   site.Domain,
				"target": "${cdn.domain_name}",
			},
		},
		{
			Kind: engine.KindPolicyAttachment,
			ID:   IDOriginPolicy,
			Attributes: engine.Attributes{
				"bucket":    "${origin.name}",
				"principal": "${cdn.origin_access_identity}",
				"actions":   []any{"read"},
			},
		},
	}

	for _, rc := range cfg.Resources {
		kind := engine.Kind(rc.Kind)
		if err := kind.Validate(); err != nil {
			return nil, fmt.Errorf("resource %q: %w", rc.ID, err)
		}
		specs = append(specs, engine.ResourceSpec{
			Kind:       kind,
			ID:         rc.ID,
			Attributes: engine.Attributes(rc.Attributes),
			DependsOn:  rc.DependsOn,
			Protect:    rc.Protect,
			Wait:       rc.Wait.Spec(),
		})
	}
	return specs, nil
}
