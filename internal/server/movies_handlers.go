package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/moviereviews/backend/internal/movies"
	"github.com/gin-gonic/gin"
)

const (
	opCreateMovie = "movies.create_movie"
	opUpdateMovie = "movies.update_movie"
	opDeleteMovie = "movies.delete_movie"

	messageMovieDeleted = "Movie deleted"
)

type movieCreatePayload struct {
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"`
}

type movieUpdatePayload struct {
	ID          int64  `json:"id" binding:"required,gt=0"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"`
}

type deletePayload struct {
	ID int64 `json:"id" binding:"required,gt=0"`
}

type movieResponsePayload struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	ReleaseDate   string    `json:"releaseDate"`
	AverageRating *float64  `json:"averageRating"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newMovieResponse(movie movies.Movie) movieResponsePayload {
	return movieResponsePayload{
		ID:            movie.ID,
		Name:          movie.Name,
		ReleaseDate:   movies.FormatReleaseDate(movie.ReleaseDate),
		AverageRating: movie.AverageRating,
		CreatedAt:     movie.CreatedAt.UTC(),
		UpdatedAt:     movie.UpdatedAt.UTC(),
	}
}

func (h *httpHandler) handleListMovies(c *gin.Context) {
	list, err := h.movieService.ListMovies(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]movieResponsePayload, 0, len(list))
	for _, movie := range list {
		response = append(response, newMovieResponse(movie))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateMovie(c *gin.Context) {
	var request movieCreatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opCreateMovie, err)
		return
	}
	movie, err := h.movieService.CreateMovie(c.Request.Context(), movies.MovieInput{
		Name:        request.Name,
		ReleaseDate: request.ReleaseDate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newMovieResponse(movie))
}

func (h *httpHandler) handleUpdateMovie(c *gin.Context) {
	var request movieUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opUpdateMovie, err)
		return
	}
	movie, err := h.movieService.UpdateMovie(c.Request.Context(), request.ID, movies.MovieInput{
		Name:        request.Name,
		ReleaseDate: request.ReleaseDate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newMovieResponse(movie))
}

func (h *httpHandler) handleDeleteMovie(c *gin.Context) {
	var request deletePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidRequest(c, opDeleteMovie, err)
		return
	}
	if err := h.movieService.DeleteMovie(c.Request.Context(), request.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": messageMovieDeleted})
}
