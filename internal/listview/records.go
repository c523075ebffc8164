package listview

import (
	"context"
	"net/url"
	"strings"

	"github.com/pitabwire/sentinel/internal/query"
	"github.com/pitabwire/sentinel/model"
)

const (
	minRating = 1
	maxRating = 5
)

// getCached reads a collection query through the cache.
func getCached[T any](ctx context.Context, v *Views, params url.Values, collection string, fetch func(context.Context) (T, error)) (T, error) {
	return query.Get(ctx, v.cache, query.Key(collection, params), fetch)
}

// --- transactions ---

// Transactions returns a page of transactions.
func (v *Views) Transactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	f.Page = withDefaultLimit(f.Page)
	params := pageParams(f.Page)
	params.Set("status", f.Status)
	return getCached(ctx, v, params, CollectionTransactions, func(ctx context.Context) ([]model.Transaction, error) {
		return v.bank.ListTransactions(ctx, f)
	})
}

// Transaction returns one transaction.
func (v *Views) Transaction(ctx context.Context, id int) (model.Transaction, error) {
	return query.Get(ctx, v.cache, itemKey(CollectionTransactions, id), func(ctx context.Context) (model.Transaction, error) {
		return v.bank.GetTransaction(ctx, id)
	})
}

// CreateTransaction creates a transaction.
func (v *Views) CreateTransaction(ctx context.Context, t model.Transaction) (model.Transaction, error) {
	var errs []model.FieldError
	if strings.TrimSpace(t.TransactionID) == "" {
		errs = append(errs, required("transaction_id"))
	}
	if t.Status != "" && !model.ValidTransactionStatus(t.Status) {
		errs = append(errs, invalid("status", "unknown transaction status"))
	}
	if len(errs) > 0 {
		return model.Transaction{}, model.NewValidationError(errs)
	}
	out, err := v.bank.CreateTransaction(ctx, t)
	if err != nil {
		return model.Transaction{}, err
	}
	v.cache.Invalidate(CollectionTransactions)
	return out, nil
}

// UpdateTransaction edits a transaction in place.
func (v *Views) UpdateTransaction(ctx context.Context, id int, patch model.TransactionPatch) (model.Transaction, error) {
	if patch.Status == nil && patch.FlaggedReason == nil && patch.Description == nil {
		return model.Transaction{}, model.NewBadRequestError("nothing to update")
	}
	if patch.Status != nil && !model.ValidTransactionStatus(*patch.Status) {
		return model.Transaction{}, model.NewValidationError([]model.FieldError{invalid("status", "unknown transaction status")})
	}
	out, err := v.bank.UpdateTransaction(ctx, id, patch)
	if err != nil {
		return model.Transaction{}, err
	}
	v.cache.Invalidate(CollectionTransactions)
	return out, nil
}

// DeleteTransaction deletes a transaction after explicit confirmation.
func (v *Views) DeleteTransaction(ctx context.Context, id int, confirmed bool) error {
	if err := requireConfirmation(confirmed, "Delete this transaction?"); err != nil {
		return err
	}
	if err := v.bank.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	v.cache.Invalidate(CollectionTransactions)
	return nil
}

// --- reviews ---

// Reviews returns a page of customer reviews.
func (v *Views) Reviews(ctx context.Context, f model.ReviewFilter) ([]model.CustomerReview, error) {
	f.Page = withDefaultLimit(f.Page)
	params := pageParams(f.Page)
	params.Set("sentiment", f.Sentiment)
	return getCached(ctx, v, params, CollectionReviews, func(ctx context.Context) ([]model.CustomerReview, error) {
		return v.bank.ListReviews(ctx, f)
	})
}

// Review returns one review.
func (v *Views) Review(ctx context.Context, id int) (model.CustomerReview, error) {
	return query.Get(ctx, v.cache, itemKey(CollectionReviews, id), func(ctx context.Context) (model.CustomerReview, error) {
		return v.bank.GetReview(ctx, id)
	})
}

// CreateReview creates a review.
func (v *Views) CreateReview(ctx context.Context, r model.CustomerReview) (model.CustomerReview, error) {
	var errs []model.FieldError
	if strings.TrimSpace(r.ReviewID) == "" {
		errs = append(errs, required("review_id"))
	}
	errs = append(errs, validateRating(&r.Rating)...)
	errs = append(errs, validateSentiment(&r.Sentiment)...)
	if len(errs) > 0 {
		return model.CustomerReview{}, model.NewValidationError(errs)
	}
	out, err := v.bank.CreateReview(ctx, r)
	if err != nil {
		return model.CustomerReview{}, err
	}
	v.cache.Invalidate(CollectionReviews)
	return out, nil
}

// UpdateReview edits a review's rating, sentiment, category or text.
func (v *Views) UpdateReview(ctx context.Context, id int, patch model.ReviewPatch) (model.CustomerReview, error) {
	if patch.Rating == nil && patch.Sentiment == nil && patch.Category == nil && patch.ReviewText == nil {
		return model.CustomerReview{}, model.NewBadRequestError("nothing to update")
	}
	var errs []model.FieldError
	errs = append(errs, validateRating(patch.Rating)...)
	errs = append(errs, validateSentiment(patch.Sentiment)...)
	if len(errs) > 0 {
		return model.CustomerReview{}, model.NewValidationError(errs)
	}
	out, err := v.bank.UpdateReview(ctx, id, patch)
	if err != nil {
		return model.CustomerReview{}, err
	}
	v.cache.Invalidate(CollectionReviews)
	return out, nil
}

// DeleteReview deletes a review after explicit confirmation.
func (v *Views) DeleteReview(ctx context.Context, id int, confirmed bool) error {
	if err := requireConfirmation(confirmed, "Delete this review?"); err != nil {
		return err
	}
	if err := v.bank.DeleteReview(ctx, id); err != nil {
		return err
	}
	v.cache.Invalidate(CollectionReviews)
	return nil
}

// --- sentiments ---

// Sentiments returns a page of stored sentiment signals.
func (v *Views) Sentiments(ctx context.Context, p model.Page) ([]model.Sentiment, error) {
	p = withDefaultLimit(p)
	return getCached(ctx, v, pageParams(p), CollectionSentiments, func(ctx context.Context) ([]model.Sentiment, error) {
		return v.bank.ListSentiments(ctx, p)
	})
}

// DeleteSentiment deletes a sentiment signal after explicit confirmation.
func (v *Views) DeleteSentiment(ctx context.Context, id int, confirmed bool) error {
	if err := requireConfirmation(confirmed, "Delete this sentiment?"); err != nil {
		return err
	}
	if err := v.bank.DeleteSentiment(ctx, id); err != nil {
		return err
	}
	v.cache.Invalidate(CollectionSentiments)
	return nil
}

// --- validation ---

func required(field string) model.FieldError {
	return model.FieldError{Field: field, Code: "REQUIRED", Message: "is required"}
}

func invalid(field, msg string) model.FieldError {
	return model.FieldError{Field: field, Code: "INVALID", Message: msg}
}

func validateRating(rating *int) []model.FieldError {
	if rating == nil || (*rating >= minRating && *rating <= maxRating) {
		return nil
	}
	return []model.FieldError{{Field: "rating", Code: "RANGE", Message: "must be between 1 and 5"}}
}

func validateSentiment(sentiment *string) []model.FieldError {
	if sentiment == nil || model.ValidReviewSentiment(*sentiment) {
		return nil
	}
	return []model.FieldError{invalid("sentiment", "must be positive, negative or neutral")}
}
