package keywords

import "adsweep/pkg/types"

// hardcodedTargets is the last-resort table used when neither the
// secure store nor the bundled document yields a usable config.
func hardcodedTargets() []types.AppTarget {
	def := types.DefaultScrollConfig()
	return []types.AppTarget{
		{AppID: "com.google.android.youtube", Keywords: []string{"Skip ad", "Skip", "跳过广告", "Sponsored"}, ScrollConfig: def},
		{AppID: "com.instagram.android", Keywords: []string{"Sponsored", "赞助内容"}, ScrollConfig: def},
		{AppID: "com.facebook.katana", Keywords: []string{"Sponsored", "赞助内容"}, ScrollConfig: def},
		{AppID: "com.zhiliaoapp.musically", Keywords: []string{"Sponsored", "Ad"}, ScrollConfig: def},
		{AppID: "com.ss.android.ugc.aweme", Keywords: []string{"广告", "推广"}, ScrollConfig: def},
	}
}
