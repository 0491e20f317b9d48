package consultation

import (
	"strings"
	"testing"
)

func TestInsertMedicationSQL_StampsEachRow(t *testing.T) {
	if strings.Contains(insertMedicationSQL, "NOW()") {
		t.Error("NOW() is fixed per transaction; medications of one consultation would share created_at")
	}
	if n := strings.Count(insertMedicationSQL, "clock_timestamp()"); n != 2 {
		t.Errorf("expected created_at and updated_at from clock_timestamp(), got %d", n)
	}
}
