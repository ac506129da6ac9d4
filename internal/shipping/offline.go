package shipping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"returns-credit-backend/internal/logger"
)

// OfflineClient books pickups without calling the carrier. cmd/server uses
// it when no Shiprocket credentials are configured.
type OfflineClient struct{}

func (OfflineClient) SchedulePickup(ctx context.Context, req PickupRequest) (*Pickup, error) {
	id := strings.ToUpper(strings.ReplaceAll(req.Return.ID.String(), "-", ""))[:12]
	p := &Pickup{
		AWB:           "OFF" + id,
		ShipmentID:    fmt.Sprintf("offline-%s", id),
		CourierName:   "offline",
		ScheduledDate: time.Now().AddDate(0, 0, 1).Format("2006-01-02"),
	}
	logger.WarnContext(ctx, "Shiprocket credentials not configured, pickup booked offline", "returnID", req.Return.ID, "awb", p.AWB)
	return p, nil
}
