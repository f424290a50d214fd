package realtime

import (
	"context"

	"github.com/kimhsiao/threemeal/backend/internal/db"
	"github.com/kimhsiao/threemeal/backend/internal/export"
	"github.com/kimhsiao/threemeal/backend/internal/live"
)

// Relay forwards table change signals from bus to hub as
// food_cards.changed and meal_records.changed events. It returns when ctx
// ends or the bus is closed.
func Relay(ctx context.Context, bus *live.Bus, hub *Hub) {
	cards := bus.Listen(db.TableFoodCards)
	defer cards.Close()
	meals := bus.Listen(db.TableMealRecords)
	defer meals.Close()

	for {
		select {
		case _, ok := <-cards.C():
			if !ok {
				return
			}
			hub.Broadcast(EventFoodCardsChanged, map[string]interface{}{"table": db.TableFoodCards})
		case _, ok := <-meals.C():
			if !ok {
				return
			}
			hub.Broadcast(EventMealRecordsChanged, map[string]interface{}{"table": db.TableMealRecords})
		case <-ctx.Done():
			return
		}
	}
}

// NotifyingExporter broadcasts export lifecycle events around an Exporter.
type NotifyingExporter struct {
	Exporter export.Exporter
	Hub      *Hub
}

// Export implements export.Exporter.
func (n NotifyingExporter) Export(ctx context.Context, cfg export.ExportConfig) (*export.ExportResult, error) {
	n.Hub.Broadcast(EventExportStarted, map[string]interface{}{
		"include_images": cfg.IncludeImages,
		"encrypted":      cfg.Password != "",
	})
	res, err := n.Exporter.Export(ctx, cfg)
	if err != nil {
		n.Hub.Broadcast(EventExportFailed, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	n.Hub.Broadcast(EventExportCompleted, map[string]interface{}{
		"file_path":   res.FilePath,
		"archive_id":  res.ArchiveID,
		"size_bytes":  res.SizeBytes,
		"food_cards":  res.FoodCards,
		"meals":       res.Meals,
		"checksum":    res.Checksum,
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res, nil
}

var _ export.Exporter = NotifyingExporter{}
