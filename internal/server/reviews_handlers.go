package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opListReviews  = "movies.list_reviews"
	opCreateReview = "movies.create_review"
	opUpdateReview = "movies.update_review"
	opDeleteReview = "movies.delete_review"

	messageReviewDeleted = "Review deleted"
)

type reviewCreatePayload struct {
	MovieID  int64    `json:"movieId" binding:"required,gt=0"`
	Reviewer string   `json:"reviewer"`
	Rating   *float64 `json:"rating" binding:"required"`
	Comments string   `json:"comments"`
}

type reviewUpdatePayload struct {
	ID       int64    `json:"id" binding:"required,gt=0"`
	MovieID  int64    `json:"movieId" binding:"omitempty,gt=0"`
	Reviewer string   `json:"reviewer"`
	Rating   *float64 `json:"rating" binding:"required"`
	Comments string   `json:"comments"`
}

type reviewResponsePayload struct {
	ID        int64     `json:"id"`
	MovieID   int64     `json:"movieId"`
	Reviewer  string    `json:"reviewer"`
	Rating    float64   `json:"rating"`
	Comments  string    `json:"comments"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newReviewResponse(review movies.Review) reviewResponsePayload {
	return reviewResponsePayload{
		ID:        review.ID,
		MovieID:   review.MovieID,
		Reviewer:  review.Reviewer,
		Rating:    review.Rating,
		Comments:  review.Comments,
		CreatedAt: review.CreatedAt.UTC(),
		UpdatedAt: review.UpdatedAt.UTC(),
	}
}

func (h *httpHandler) handleListReviews(c *gin.Context) {
	movieID, err := movies.ParseID(c.Query("movieId"))
	if err != nil {
		h.respondInvalidRequest(c, opListReviews, err)
		return
	}
	list, err := h.reviewService.ListReviews(c.Request.Context(), movieID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]reviewResponsePayload, 0, len(list))
	for _, review := range list {
		response = append(response, newReviewResponse(review))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateReview(c *gin.Context) {
	var request reviewCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opCreateReview, err)
		return
	}
	mutation, err := h.reviewService.CreateReview(c.Request.Context(), movies.ReviewInput{
		MovieID:  request.MovieID,
		Reviewer: request.Reviewer,
		Rating:   *request.Rating,
		Comments: request.Comments,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondMutation(c, http.StatusCreated, mutation, nil)
}

func (h *httpHandler) handleUpdateReview(c *gin.Context) {
	var request reviewUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opUpdateReview, err)
		return
	}
	mutation, err := h.reviewService.UpdateReview(c.Request.Context(), movies.ReviewUpdate{
		ID:       request.ID,
		MovieID:  request.MovieID,
		Reviewer: request.Reviewer,
		Rating:   *request.Rating,
		Comments: request.Comments,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondMutation(c, http.StatusOK, mutation, nil)
}

func (h *httpHandler) handleDeleteReview(c *gin.Context) {
	var request deletePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opDeleteReview, err)
		return
	}
	mutation, err := h.reviewService.DeleteReview(c.Request.Context(), request.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondMutation(c, http.StatusOK, mutation, gin.H{"message": messageReviewDeleted})
}

// respondMutation writes the review (or body, when given) and flags a stale
// average through the consistency header.
func (h *httpHandler) respondMutation(c *gin.Context, status int, mutation movies.ReviewMutation, body any) {
	if mutation.Warning != nil {
		h.logger.Warn("review saved with stale average rating",
			zap.Int64("movie_id", mutation.Warning.MovieID),
			zap.Int64("review_id", mutation.Review.ID),
			zap.Int("attempts", mutation.Warning.Attempts),
			zap.String("request_id", c.GetString(requestIDContextKey)),
			zap.Error(mutation.Warning))
		c.Header(consistencyWarningHeader, consistencyWarningStale)
	}
	if body == nil {
		body = newReviewResponse(mutation.Review)
	}
	c.JSON(status, body)
}
