package redirect

func cacheKeyLink(slug string) string {
	return "link:" + slug
}
