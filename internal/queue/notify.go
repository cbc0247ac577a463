package queue

import (
	"context"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

// Checker refreshes one drug's price and returns the alerts it satisfies.
type Checker interface {
	Check(ctx context.Context, drugName string) (model.DrugRecord, []model.PriceAlert)
}

// Notifier receives fired alerts. Delivery is up to the implementation.
type Notifier interface {
	Notify(ctx context.Context, rec model.DrugRecord, fired []model.PriceAlert)
}

type NotifierFunc func(ctx context.Context, rec model.DrugRecord, fired []model.PriceAlert)

func (f NotifierFunc) Notify(ctx context.Context, rec model.DrugRecord, fired []model.PriceAlert) {
	f(ctx, rec, fired)
}

// LogNotifier writes one log line per fired alert.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, rec model.DrugRecord, fired []model.PriceAlert) {
	for _, a := range fired {
		obs.Logger.Info("alert_notify",
			"alert_id", a.ID,
			"user_id", a.UserID,
			"drug_name", a.DrugName,
			"target_price", a.TargetPrice,
			"price_min", rec.PriceMin,
			"display_name", rec.DisplayName,
		)
	}
}
