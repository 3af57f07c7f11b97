package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiresReview(t *testing.T) {
	t.Parallel()
	assert.True(t, RequiresReview("https://www.facebook.com/joespizza"))
	assert.True(t, RequiresReview("https://linkedin.com/company/acme"))
	assert.True(t, RequiresReview("https://maps.google.com/?q=pizza"))
	assert.False(t, RequiresReview("https://joespizza.example"))
	assert.False(t, RequiresReview("https://notfacebook.com"))
}

func TestCaptchaLikely(t *testing.T) {
	t.Parallel()
	assert.True(t, CaptchaLikely("https://www.yelp.com/biz/joes-pizza"))
	assert.True(t, CaptchaLikely("https://www.google.com/search?q=pizza"))
	assert.False(t, CaptchaLikely("https://joespizza.example"))
}

func TestProxyPool_Rotation(t *testing.T) {
	t.Parallel()

	p, err := NewProxyPool([]string{"http://p1:8080", "http://user:pw@p2:8080", "http://p3:8080"})
	assert.NoError(t, err)
	assert.Equal(t, 3, p.Len())

	var hosts []string
	for i := 0; i < 6; i++ {
		hosts = append(hosts, p.Next().Host)
	}
	assert.Equal(t, []string{"p1:8080", "p2:8080", "p3:8080", "p1:8080", "p2:8080", "p3:8080"}, hosts)
}

func TestProxyPool_Empty(t *testing.T) {
	t.Parallel()

	var nilPool *ProxyPool
	assert.Equal(t, 0, nilPool.Len())
	assert.Nil(t, nilPool.Next())

	p, err := NewProxyPool(nil)
	assert.NoError(t, err)
	u, err := p.ProxyFunc()(nil)
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestProxyPool_Invalid(t *testing.T) {
	t.Parallel()
	_, err := NewProxyPool([]string{"not a proxy"})
	assert.Error(t, err)
}
