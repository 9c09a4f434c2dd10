package generation

import "github.com/workbench/server/internal/workspacestore"

// materializeTemplate writes the minimal file set a fresh workspace needs
// before the model loop can usefully read/write it. It seeds just enough
// for `npm install && npm run dev` to have something to run, regardless of
// the requested template name.
func materializeTemplate(store *workspacestore.Store, _ string) error {
	if err := store.WriteFile("package.json", []byte(defaultPackageJSON)); err != nil {
		return err
	}
	if err := store.WriteFile("index.html", []byte(defaultIndexHTML)); err != nil {
		return err
	}
	if err := store.WriteFile("src/App.jsx", []byte(defaultAppJSX)); err != nil {
		return err
	}
	return store.WriteFile("src/main.jsx", []byte(defaultMainJSX))
}

const defaultPackageJSON = `{
  "name": "workbench-app",
  "private": true,
  "version": "0.0.0",
  "scripts": {
    "dev": "vite --port $PORT",
    "build": "vite build"
  },
  "dependencies": {
    "react": "^18.3.0",
    "react-dom": "^18.3.0"
  },
  "devDependencies": {
    "vite": "^5.4.0",
    "@vitejs/plugin-react": "^4.3.0"
  }
}
`

const defaultIndexHTML = `<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>Workbench App</title></head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`

const defaultAppJSX = `export default function App() {
  return <h1>New workbench app</h1>
}
`

const defaultMainJSX = `import { createRoot } from "react-dom/client"
import App from "./App.jsx"

createRoot(document.getElementById("root")).render(<App />)
`
