package manifest

// builtinResources 由构建工具生成，随应用一起发布。
var builtinResources = map[string]string{
	"/index.html":          "f4e9d07268c4959f6f64e425712ec2e1",
	"/manifest.json":       "e635fd6dd182a2cf920db16d047ea5f3",
	"/icons/Icon-512.png":  "96e752610906ba2a93c65f8abe1645f1",
	"/icons/Icon-192.png":  "ac9a721a12bbc803b44f645561ecb1e1",
	"/assets/packages/cupertino_icons/assets/CupertinoIcons.ttf": "115e937bb829a890521f72d2e664b632",
	"/assets/AssetManifest.json":             "c8c96be442923132ae406dd6e4b38832",
	"/assets/LICENSE":                        "28eaf584c7f90ed893cff7f4c06156f7",
	"/assets/images/rahbert.png":             "98e5b6c34fa8cd40d5ada1e3deacb58d",
	"/assets/images/app_icon.png":            "5f5244069ceba8559afa0a04f02321ef",
	"/assets/FontManifest.json":              "01700ba55b08a6141f33e168c4a6c22f",
	"/assets/fonts/MaterialIcons-Regular.ttf": "56d3ffdef7a25659eab6a68a3fbfaf16",
	"/main.dart.js":                          "37e08b62221cfbf2baddac066215cadf",
}

// Default 返回内置资源表。
func Default() *Table {
	table, err := New(builtinResources)
	if err != nil {
		panic(err)
	}
	return table
}
