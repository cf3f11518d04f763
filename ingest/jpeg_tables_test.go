package ingest

import "testing"

func TestScaleQuantTableIdentityAtQ50(t *testing.T) {
	scaled := scaleQuantTable(defaultLumaQuant, 50)
	for i, v := range scaled {
		if v != defaultLumaQuant[i] {
			t.Fatalf("index %d: scaled = %d, want unscaled default %d at Q=50", i, v, defaultLumaQuant[i])
		}
	}
}

func TestScaleQuantTableClampsToByteRange(t *testing.T) {
	for _, q := range []uint8{1, 10, 99, 100, 200, 255} {
		scaled := scaleQuantTable(defaultLumaQuant, q)
		if len(scaled) != 64 {
			t.Fatalf("Q=%d: len = %d, want 64", q, len(scaled))
		}
		for _, v := range scaled {
			if v < 1 {
				t.Errorf("Q=%d: quant value %d below minimum of 1", q, v)
			}
		}
	}
}

func TestQuantTablesForUsesCustomWhenQHigh(t *testing.T) {
	custom := make([]byte, 128)
	for i := range custom {
		custom[i] = byte(i % 256)
	}

	luma, chroma := quantTablesFor(200, custom, 0)
	for i := 0; i < 64; i++ {
		if luma[i] != custom[i] {
			t.Fatalf("luma[%d] = %d, want custom table value %d", i, luma[i], custom[i])
		}
	}
	for i := 0; i < 64; i++ {
		if chroma[i] != custom[64+i] {
			t.Fatalf("chroma[%d] = %d, want custom table value %d", i, chroma[i], custom[64+i])
		}
	}
}

func TestQuantTablesForFallsBackToDefaultsWhenCustomMissing(t *testing.T) {
	luma, _ := quantTablesFor(200, nil, 0)
	if len(luma) != 64 {
		t.Fatalf("expected scaled default table of length 64, got %d", len(luma))
	}
}
