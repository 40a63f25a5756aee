package providers

import (
	"encoding/json"
	"testing"

	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

func evidenceByTitle(t *testing.T, result *models.ProviderResult, title string) *models.EvidenceItem {
	t.Helper()
	for i := range result.Evidence {
		if result.Evidence[i].Title == title {
			return &result.Evidence[i]
		}
	}
	return nil
}

func TestRegistryDisplayOrder(t *testing.T) {
	registry := NewRegistry(config.DefaultConfig())

	var names []string
	for _, a := range registry.All() {
		names = append(names, a.Name())
	}
	want := []string{"virustotal", "abuseipdb", "otx"}
	if len(names) != len(want) {
		t.Fatalf("got %d adapters: %v", len(names), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("adapter %d = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRegistryForType(t *testing.T) {
	registry := NewRegistry(config.DefaultConfig())

	forIP := registry.ForType(models.TypeIPv4)
	if len(forIP) != 3 {
		t.Errorf("ipv4 adapters = %d, want all 3", len(forIP))
	}

	// AbuseIPDB only knows IP addresses.
	forDomain := registry.ForType(models.TypeDomain)
	for _, a := range forDomain {
		if a.Name() == "abuseipdb" {
			t.Error("abuseipdb offered for domain lookups")
		}
	}
	if len(forDomain) != 2 {
		t.Errorf("domain adapters = %d, want 2", len(forDomain))
	}
}

func TestRegistryInfo(t *testing.T) {
	registry := NewRegistry(config.DefaultConfig())

	info := registry.Info()
	if len(info) != 3 {
		t.Fatalf("got %d entries: %+v", len(info), info)
	}

	byName := make(map[string]models.ProviderInfo)
	for _, p := range info {
		byName[p.Name] = p
		if p.CircuitOpen {
			t.Errorf("%s breaker open on a fresh registry", p.Name)
		}
	}
	if got := byName["abuseipdb"].SupportedTypes; len(got) != 1 || got[0] != "ipv4" {
		t.Errorf("abuseipdb supported types = %v", got)
	}
	if got := byName["virustotal"].SupportedTypes; len(got) != 7 {
		t.Errorf("virustotal supported types = %v", got)
	}

	// A tripped breaker shows up in the info output.
	vt := registry.All()[0].(*VirusTotal)
	for i := 0; i < 3; i++ {
		vt.fetcher.breaker.recordFailure()
	}
	for _, p := range registry.Info() {
		if p.Name == "virustotal" && !p.CircuitOpen {
			t.Error("open breaker not reported")
		}
	}
}

func TestVirusTotalNormalize(t *testing.T) {
	v := NewVirusTotal(config.DefaultConfig())
	raw := json.RawMessage(`{
		"data": {
			"attributes": {
				"last_analysis_stats": {"malicious": 12, "suspicious": 2, "harmless": 50, "undetected": 6},
				"country": "NL",
				"as_owner": "Example Hosting BV"
			}
		}
	}`)

	result := v.Normalize(raw, "8.8.8.8", models.TypeIPv4)

	if result.Status != models.StatusOK {
		t.Fatalf("status = %s", result.Status)
	}
	if *result.MaliciousCount != 12 || *result.SuspiciousCount != 2 || *result.HarmlessCount != 50 {
		t.Errorf("counts = %d/%d/%d", *result.MaliciousCount, *result.SuspiciousCount, *result.HarmlessCount)
	}
	if result.Flags["total_scans"] != 70 {
		t.Errorf("total_scans = %v, want 70", result.Flags["total_scans"])
	}
	// (12*100 + 2*50) / 70
	if *result.Reputation != 18 {
		t.Errorf("reputation = %d, want 18", *result.Reputation)
	}

	detections := evidenceByTitle(t, result, "Detections")
	if detections == nil {
		t.Fatal("missing Detections evidence")
	}
	if detections.Severity != models.SeverityCritical {
		t.Errorf("detections severity = %s, want critical for >10 engines", detections.Severity)
	}
	if evidenceByTitle(t, result, "Geolocation") == nil {
		t.Error("missing Geolocation evidence for IP")
	}
	if evidenceByTitle(t, result, "Network") == nil {
		t.Error("missing Network evidence for IP")
	}
}

func TestVirusTotalNormalizeHash(t *testing.T) {
	v := NewVirusTotal(config.DefaultConfig())
	raw := json.RawMessage(`{
		"data": {
			"attributes": {
				"last_analysis_stats": {"malicious": 3, "harmless": 40},
				"type_description": "Win32 EXE",
				"names": ["dropper.exe", "invoice.pdf.exe"]
			}
		}
	}`)

	result := v.Normalize(raw, "d41d8cd98f00b204e9800998ecf8427e", models.TypeMD5)

	fileType := evidenceByTitle(t, result, "File Type")
	if fileType == nil || fileType.Description != "Win32 EXE" {
		t.Error("missing or wrong File Type evidence")
	}
	if evidenceByTitle(t, result, "File Names") == nil {
		t.Error("missing File Names evidence")
	}
	detections := evidenceByTitle(t, result, "Detections")
	if detections == nil || detections.Severity != models.SeverityHigh {
		t.Error("3 detections should be high severity evidence")
	}
}

func TestVirusTotalNormalizeUnparsable(t *testing.T) {
	v := NewVirusTotal(config.DefaultConfig())
	result := v.Normalize(json.RawMessage(`not json`), "8.8.8.8", models.TypeIPv4)
	if result.Status != models.StatusError || result.Err == nil {
		t.Errorf("status = %s, want error with detail", result.Status)
	}
}

func TestVirusTotalURLEncoding(t *testing.T) {
	v := NewVirusTotal(config.DefaultConfig())
	link := v.LinkOut("http://evil.example/path", models.TypeURL)
	// base64url without padding
	if link != "https://www.virustotal.com/gui/url/aHR0cDovL2V2aWwuZXhhbXBsZS9wYXRo/detection" {
		t.Errorf("link = %s", link)
	}
}

func TestOTXNormalizeEmptyBodyIsNotFound(t *testing.T) {
	o := NewOTX(config.DefaultConfig())
	for _, body := range []string{"", "{}", "null", "  {}  "} {
		result := o.Normalize(json.RawMessage(body), "example.com", models.TypeDomain)
		if result.Status != models.StatusNotFound {
			t.Errorf("body %q: status = %s, want not_found", body, result.Status)
		}
	}
}

func TestOTXNormalizePulseScore(t *testing.T) {
	o := NewOTX(config.DefaultConfig())
	raw := json.RawMessage(`{"pulse_info": {"count": 3, "pulses": []}}`)

	result := o.Normalize(raw, "example.com", models.TypeDomain)

	if result.Status != models.StatusOK {
		t.Fatalf("status = %s", result.Status)
	}
	if result.Flags["pulse_count"] != 3 {
		t.Errorf("pulse_count = %v", result.Flags["pulse_count"])
	}
	// 3 pulses at 10 points each.
	if *result.Reputation != 30 {
		t.Errorf("reputation = %d, want 30", *result.Reputation)
	}
	intel := evidenceByTitle(t, result, "Threat Intelligence")
	if intel == nil || intel.Severity != models.SeverityMedium {
		t.Error("3 pulses should yield medium threat-intel evidence")
	}
}

func TestOTXNormalizePulseScoreCapped(t *testing.T) {
	o := NewOTX(config.DefaultConfig())
	raw := json.RawMessage(`{"pulse_info": {"count": 25, "pulses": []}}`)

	result := o.Normalize(raw, "example.com", models.TypeDomain)

	if *result.Reputation != 80 {
		t.Errorf("reputation = %d, want capped at 80", *result.Reputation)
	}
	intel := evidenceByTitle(t, result, "Threat Intelligence")
	if intel == nil || intel.Severity != models.SeverityCritical {
		t.Error("25 pulses should yield critical threat-intel evidence")
	}
}

func TestOTXNormalizeMalwareTagBonus(t *testing.T) {
	o := NewOTX(config.DefaultConfig())
	raw := json.RawMessage(`{
		"pulse_info": {
			"count": 2,
			"pulses": [{"tags": ["trojan", "banking"]}]
		}
	}`)

	result := o.Normalize(raw, "example.com", models.TypeDomain)

	malware := false
	for _, ev := range result.Evidence {
		if ev.Category == "malware" && ev.Severity == models.SeverityCritical {
			malware = true
		}
	}
	if !malware {
		t.Fatal("known malware family tag produced no critical evidence")
	}
	// 2 pulses * 10 + 20 malware bonus.
	if *result.Reputation != 40 {
		t.Errorf("reputation = %d, want 40", *result.Reputation)
	}
}

func TestAbuseIPDBSupportsOnlyIPv4(t *testing.T) {
	a := NewAbuseIPDB(config.DefaultConfig())
	if !a.Supports(models.TypeIPv4) {
		t.Error("ipv4 not supported")
	}
	for _, typ := range []models.IndicatorType{models.TypeDomain, models.TypeURL, models.TypeSHA256, models.TypeIPv6} {
		if a.Supports(typ) {
			t.Errorf("%s unexpectedly supported", typ)
		}
	}
}

func TestAbuseIPDBNormalize(t *testing.T) {
	a := NewAbuseIPDB(config.DefaultConfig())
	raw := json.RawMessage(`{
		"data": {
			"abuseConfidenceScore": 75,
			"isPublic": true,
			"isWhitelisted": false,
			"totalReports": 15,
			"numDistinctUsers": 9,
			"countryCode": "CN",
			"countryName": "China",
			"isp": "Example Telecom",
			"usageType": "Data Center/Web Hosting/Transit",
			"reports": [{"categories": [18, 22]}, {"categories": [14]}]
		}
	}`)

	result := a.Normalize(raw, "203.0.113.7", models.TypeIPv4)

	if result.Status != models.StatusOK {
		t.Fatalf("status = %s", result.Status)
	}
	if *result.Reputation != 75 || *result.Confidence != 75 {
		t.Errorf("reputation/confidence = %d/%d, want 75/75", *result.Reputation, *result.Confidence)
	}
	if result.Flags["total_reports"] != 15 {
		t.Errorf("total_reports flag = %v", result.Flags["total_reports"])
	}
	if result.Flags["is_whitelisted"] != false {
		t.Errorf("is_whitelisted flag = %v", result.Flags["is_whitelisted"])
	}

	reports := evidenceByTitle(t, result, "Abuse Reports")
	if reports == nil {
		t.Fatal("missing Abuse Reports evidence")
	}
	if reports.Severity != models.SeverityHigh {
		t.Errorf("15 reports severity = %s, want high", reports.Severity)
	}
	if evidenceByTitle(t, result, "Report Categories") == nil {
		t.Error("missing Report Categories evidence")
	}
}
