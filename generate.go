package fluentdynamo

import (
	"fmt"
	"strings"

	"github.com/voxtechnica/tuid-go"

	"github.com/oproto/fluent-dynamodb-go/internal/uid"
)

// generateValue produces fresh key material for a Generate-flagged field.
func generateValue(gen string) string {
	switch gen {
	case "uuid":
		return uid.UUID()
	case "ulid":
		return uid.New().String()
	case "uid":
		return uid.UID(10)
	case "tuid":
		return tuid.NewID().String()
	default:
		if strings.HasPrefix(gen, "uid(") {
			n := 10
			fmt.Sscanf(gen, "uid(%d)", &n)
			return uid.UID(n)
		}
		return uid.UUID()
	}
}
