package store

import (
	"math/rand"
	"strconv"
	"time"

	"example.com/photoposts/internal/models"
)

// SeedTime is the creation time given to every generated post.
var SeedTime = time.Date(2018, 3, 5, 12, 0, 0, 0, time.UTC)

var seedTags = []string{"house", "minimalism", "roof", "monaco", "life"}

const likesPerPost = 5

// Generate builds n demo posts with ids "0".."n-1". Likes are drawn from
// rng; pass a seeded source for reproducible output.
func Generate(n int, rng *rand.Rand) []models.Post {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	posts := make([]models.Post, 0, n)
	for i := 0; i < n; i++ {
		id := strconv.Itoa(i)
		likes := make([]string, 0, likesPerPost)
		for j := 0; j < likesPerPost; j++ {
			likes = append(likes, "Author "+strconv.Itoa(rng.Intn(n)))
		}
		posts = append(posts, models.Post{
			ID:          id,
			Description: "description for id " + id,
			CreatedAt:   SeedTime,
			Author:      "Author " + id,
			PhotoLink:   "http://photoLab.com/" + id + ".jpg",
			Likes:       likes,
			HashTags:    []string{seedTags[i%len(seedTags)], seedTags[(i+1)%len(seedTags)]},
		})
	}
	return posts
}
